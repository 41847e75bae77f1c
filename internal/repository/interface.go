package repository

import (
	"context"

	"github.com/veranemoloko/batchdl/internal/domain"
)

//go:generate mockgen -source=interface.go -destination=mocks/mock_store.go -package=mocks

// DownloadsStore defines the durable record of download batches and their items.
type DownloadsStore interface {
	RetrieveAll(ctx context.Context) ([]domain.DownloadBatch, error)
	Retrieve(ctx context.Context, status domain.DownloadStatus) ([]domain.DownloadBatch, error)
	Insert(ctx context.Context, batch domain.BatchRequest, status domain.DownloadStatus) (domain.DownloadBatch, error)
	Update(ctx context.Context, downloads []domain.Download) error
	Delete(ctx context.Context, batchIDs []int64) error
	Close() error
}

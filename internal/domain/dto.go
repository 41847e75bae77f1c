package domain

// CreateBatchRequest represents the request body for enqueuing a new batch.
type CreateBatchRequest struct {
	Requests []CreateDownloadRequest `json:"requests" validate:"required,min=1,unique=URL,dive"`
}

// CreateDownloadRequest is one item of CreateBatchRequest.
type CreateDownloadRequest struct {
	URL             string            `json:"url" validate:"required,safe_url"`
	DestinationPath string            `json:"destination_path" validate:"required,rel_path"`
	ResumePath      string            `json:"resume_path,omitempty" validate:"omitempty,rel_path"`
	Method          string            `json:"method,omitempty" validate:"omitempty,oneof=GET POST get post"`
	Headers         map[string]string `json:"headers,omitempty"`
}

// ToBatchRequest converts the payload into the engine's BatchRequest.
func (r CreateBatchRequest) ToBatchRequest() BatchRequest {
	requests := make([]DownloadRequest, 0, len(r.Requests))
	for _, item := range r.Requests {
		requests = append(requests, DownloadRequest{
			URL:             item.URL,
			ResumePath:      item.ResumePath,
			DestinationPath: item.DestinationPath,
			Method:          item.Method,
			Headers:         item.Headers,
		}.Normalized())
	}
	return BatchRequest{Requests: requests}
}

// BatchView represents an ongoing batch, including its items and progress.
type BatchView struct {
	ID       int64      `json:"batch_id"`
	State    BatchState `json:"state"`
	Progress float64    `json:"progress"`
	Error    string     `json:"error,omitempty"`
	Items    []ItemView `json:"items"`
}

// ItemView represents one download of a batch.
type ItemView struct {
	URL             string         `json:"url"`
	DestinationPath string         `json:"destination_path"`
	Status          DownloadStatus `json:"status"`
	Progress        float64        `json:"progress"`
	Error           string         `json:"error,omitempty"`
}

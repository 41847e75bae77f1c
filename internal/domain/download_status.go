package domain

import "fmt"

// DownloadStatus represents the persisted state of a single download item.
// The numeric values are stored in the download table and must not change.
type DownloadStatus int

const (
	DownloadStatusDownloading DownloadStatus = 0
	DownloadStatusCompleted   DownloadStatus = 1
	DownloadStatusPending     DownloadStatus = 3
)

func (s DownloadStatus) String() string {
	switch s {
	case DownloadStatusDownloading:
		return "downloading"
	case DownloadStatusCompleted:
		return "completed"
	case DownloadStatusPending:
		return "pending"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText renders the status by name in JSON payloads.
func (s DownloadStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *DownloadStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseDownloadStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseDownloadStatus converts a status name into a DownloadStatus.
func ParseDownloadStatus(name string) (DownloadStatus, error) {
	switch name {
	case "downloading":
		return DownloadStatusDownloading, nil
	case "completed":
		return DownloadStatusCompleted, nil
	case "pending":
		return DownloadStatusPending, nil
	}
	return 0, fmt.Errorf("unknown download status %q", name)
}

// BatchState is the aggregate state of a batch as seen by callers.
type BatchState string

const (
	BatchStateDownloading BatchState = "downloading"
	BatchStateCompleted   BatchState = "completed"
	BatchStateFailed      BatchState = "failed"
)

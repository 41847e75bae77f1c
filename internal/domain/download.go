package domain

import "strings"

// ResumeSuffix is appended to a destination path to derive the default resume-data path.
const ResumeSuffix = ".resume"

// DownloadRequest maps one remote resource to a local file. Paths are
// relative to the download base directory.
type DownloadRequest struct {
	URL             string            `json:"url"`
	ResumePath      string            `json:"resume_path"`
	DestinationPath string            `json:"destination_path"`
	Method          string            `json:"method,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
}

// NewDownloadRequest builds a GET request whose resume data lives next to the destination.
func NewDownloadRequest(url, destinationPath string) DownloadRequest {
	return DownloadRequest{
		URL:             url,
		ResumePath:      destinationPath + ResumeSuffix,
		DestinationPath: destinationPath,
		Method:          "GET",
	}
}

// Normalized fills the defaults a stored request must carry.
func (r DownloadRequest) Normalized() DownloadRequest {
	if r.Method == "" {
		r.Method = "GET"
	}
	r.Method = strings.ToUpper(r.Method)
	if r.ResumePath == "" {
		r.ResumePath = r.DestinationPath + ResumeSuffix
	}
	return r
}

// Download is one item of a batch.
// TaskID is set only while the item is downloading and has a live transfer task.
type Download struct {
	ID      int64           `json:"id"`
	TaskID  *int            `json:"task_id,omitempty"`
	Request DownloadRequest `json:"request"`
	Status  DownloadStatus  `json:"status"`
	BatchID int64           `json:"batch_id"`
}

// DownloadBatch is a durable group of downloads.
type DownloadBatch struct {
	ID        int64      `json:"id"`
	Downloads []Download `json:"downloads"`
}

// BatchRequest is the input for creating a batch.
type BatchRequest struct {
	Requests []DownloadRequest
}

// TaskIDPtr returns a pointer to a copy of id.
func TaskIDPtr(id int) *int {
	return &id
}

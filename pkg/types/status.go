package types

// UploadStatus is the state-machine value for an upload record.
type UploadStatus string

const (
	StatusPending    UploadStatus = "pending"
	StatusUploading  UploadStatus = "uploading"
	StatusPaused     UploadStatus = "paused"
	StatusResuming   UploadStatus = "resuming"
	StatusValidating UploadStatus = "validating"
	StatusCompleted  UploadStatus = "completed"
	StatusError      UploadStatus = "error"
	StatusCancelled  UploadStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s UploadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Resumable reports whether a resume request is legal from this status.
func (s UploadStatus) Resumable() bool {
	return s == StatusPaused || s == StatusError
}

func (s UploadStatus) String() string {
	return string(s)
}

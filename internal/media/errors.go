package media

import "errors"

var (
	// ErrAssetNotFound indicates the requested media file does not exist.
	ErrAssetNotFound = errors.New("media asset not found")
	// ErrProviderUnavailable indicates the storage provider is not configured.
	ErrProviderUnavailable = errors.New("storage provider unavailable")
	// ErrAssetTooLarge indicates the payload exceeds the configured max asset size.
	ErrAssetTooLarge = errors.New("media asset too large")
	// ErrPathTraversal indicates a storage key attempted directory traversal.
	ErrPathTraversal = errors.New("path traversal is forbidden")
	// ErrQueueFull indicates the download queue rejected a job.
	ErrQueueFull = errors.New("media download queue full")
)

// permanentError marks a download failure that retrying cannot fix.
type permanentError struct {
	reason string
	err    error
}

func (e *permanentError) Error() string {
	if e.err == nil {
		return e.reason
	}
	return e.reason + ": " + e.err.Error()
}

func (e *permanentError) Unwrap() error { return e.err }

func permanent(reason string, err error) error {
	return &permanentError{reason: reason, err: err}
}

// failureReason returns the text recorded on the message for err.
func failureReason(err error) string {
	var perm *permanentError
	if errors.As(err, &perm) {
		return perm.reason
	}
	if errors.Is(err, ErrAssetTooLarge) {
		return reasonTooLarge
	}
	return "download failed: " + err.Error()
}

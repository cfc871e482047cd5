package media

import (
	"fmt"
	"io"
	"os"
)

const (
	// DefaultMaxBytes is the hard ceiling for a single attachment.
	DefaultMaxBytes int64 = 25 * 1024 * 1024
	// DefaultSmallFileBytes is the size below which downloads are buffered in memory.
	DefaultSmallFileBytes int64 = 5 * 1024 * 1024
)

// ReadAllWithLimit reads from reader and rejects payloads larger than maxBytes.
func ReadAllWithLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be greater than 0")
	}
	limited := &io.LimitedReader{
		R: reader,
		N: maxBytes + 1,
	}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: max %d bytes", ErrAssetTooLarge, maxBytes)
	}
	return data, nil
}

// spoolWithLimit streams reader into a temp file and returns its path. The
// caller owns the file.
func spoolWithLimit(reader io.Reader, maxBytes int64) (string, int64, error) {
	if reader == nil {
		return "", 0, fmt.Errorf("reader is required")
	}
	if maxBytes <= 0 {
		return "", 0, fmt.Errorf("max bytes must be greater than 0")
	}
	tempFile, err := os.CreateTemp("", "socialdesk-media-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	keepFile := false
	defer func() {
		_ = tempFile.Close()
		if !keepFile {
			_ = os.Remove(tempPath)
		}
	}()

	limited := &io.LimitedReader{R: reader, N: maxBytes + 1}
	written, err := io.Copy(tempFile, limited)
	if err != nil {
		return "", 0, fmt.Errorf("copy to temp file: %w", err)
	}
	if written > maxBytes {
		return "", 0, fmt.Errorf("%w: max %d bytes", ErrAssetTooLarge, maxBytes)
	}
	if written == 0 {
		return "", 0, fmt.Errorf("media payload is empty")
	}
	keepFile = true
	return tempPath, written, nil
}

package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	// ErrCredentialMissing means the account has no integration for the platform.
	ErrCredentialMissing = errors.New("platform credential missing")
	// ErrCredentialDisconnected means the integration was switched off or flagged earlier.
	ErrCredentialDisconnected = errors.New("platform credential disconnected")
	// ErrCredentialExpired means the platform rejected the access token.
	ErrCredentialExpired = errors.New("platform credential expired")
	// ErrPermanent marks failures that retrying cannot fix.
	ErrPermanent = errors.New("permanent send failure")
)

// APIError is an error envelope returned by the Graph API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode"`
	Type       string `json:"type"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "request failed"
	}
	if e.Subcode != 0 {
		return fmt.Sprintf("graph api %d (code %d/%d): %s", e.StatusCode, e.Code, e.Subcode, msg)
	}
	return fmt.Sprintf("graph api %d (code %d): %s", e.StatusCode, e.Code, msg)
}

// ParseAPIError decodes the {"error":{...}} body of a failed Graph call.
// Bodies that are not Graph envelopes keep their text as the message.
func ParseAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		envelope.Error.StatusCode = status
		return envelope.Error
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return &APIError{StatusCode: status, Message: text}
}

type errorClass int

const (
	classPermanent errorClass = iota
	classTransient
	classExpired
)

var transientCodes = map[int]bool{1: true, 2: true, 4: true, 17: true, 341: true}

func classify(err error) errorClass {
	if err == nil {
		return classPermanent
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrPermanent) {
		return classPermanent
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401, apiErr.Code == 190, apiErr.Subcode == 463, apiErr.Subcode == 467:
			return classExpired
		case apiErr.StatusCode >= 500, apiErr.StatusCode == 429, transientCodes[apiErr.Code]:
			return classTransient
		default:
			return classPermanent
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return classTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return classTransient
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return classTransient
	}
	return classPermanent
}

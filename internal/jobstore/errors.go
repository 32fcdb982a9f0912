package jobstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNoCredential    = errors.New("no credential, sign in required")
	ErrUnauthorized    = errors.New("credential rejected by job store")
	ErrProfileNotFound = errors.New("profile not found, complete onboarding")
	ErrNotFound        = errors.New("job not found")
	ErrInvalidRequest  = errors.New("invalid job store request")
	ErrTransport       = errors.New("job store unreachable")
	ErrTooLarge        = errors.New("job store response exceeds the size limit")
)

// APIError is a non-2xx response from the job store.
type APIError struct {
	Status  int
	Message string
	kind    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("job store %d: %s", e.Status, e.Message)
}

// Unwrap exposes the sentinel matching the status, if any.
func (e *APIError) Unwrap() error {
	return e.kind
}

// IsAuth reports whether err means the caller has to sign in again.
func IsAuth(err error) bool {
	return errors.Is(err, ErrNoCredential) || errors.Is(err, ErrUnauthorized)
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Message: errorMessage(status, body)}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		apiErr.kind = ErrUnauthorized
	case http.StatusNotFound:
		apiErr.kind = ErrNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		apiErr.kind = ErrInvalidRequest
	}
	return apiErr
}

// errorMessage extracts a human-readable message from an error body:
// "detail" (string or validation list), then "error.message", then the
// status text.
func errorMessage(status int, body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := detailMessage(payload.Detail); msg != "" {
			return msg
		}
		if payload.Error != nil && payload.Error.Message != "" {
			return payload.Error.Message
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", status)
}

func detailMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var items []struct {
		Loc []any  `json:"loc"`
		Msg string `json:"msg"`
	}
	if json.Unmarshal(raw, &items) == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg == "" {
				continue
			}
			if len(it.Loc) > 0 {
				msgs = append(msgs, fmt.Sprintf("%v: %s", it.Loc[len(it.Loc)-1], it.Msg))
			} else {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

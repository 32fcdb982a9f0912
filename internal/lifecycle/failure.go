package lifecycle

import (
	"errors"
	"net/http"

	"qc-dashboard/internal/jobstore"
	"qc-dashboard/internal/probe"
)

// Failure kinds.
const (
	KindMetadata       = "metadata"
	KindValidation     = "validation"
	KindTransport      = "transport"
	KindAuthentication = "authentication"
)

// Recovery actions offered with a failure.
const (
	ActionChooseAnotherFile = "choose_another_file"
	ActionRetry             = "retry"
	ActionSignIn            = "sign_in"
	ActionFixAndRetry       = "fix_and_retry"
)

// Failure is a user-visible error with the action that recovers from it.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

func (f *Failure) Error() string {
	return f.Kind + ": " + f.Message
}

// Classify maps an error from probing or submission to a Failure.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	var metaErr *probe.MetadataError
	if errors.As(err, &metaErr) {
		return &Failure{
			Kind:    KindMetadata,
			Message: "Could not read this video. Please try another file.",
			Action:  ActionChooseAnotherFile,
		}
	}
	var apiErr *jobstore.APIError
	isAPI := errors.As(err, &apiErr)
	if jobstore.IsAuth(err) || (isAPI && apiErr.Status == http.StatusUnauthorized) {
		return &Failure{Kind: KindAuthentication, Message: "Your session has expired. Please sign in again.", Action: ActionSignIn}
	}
	if isAPI {
		if apiErr.Status >= http.StatusBadRequest && apiErr.Status < http.StatusInternalServerError {
			return &Failure{Kind: KindValidation, Message: apiErr.Message, Action: ActionFixAndRetry}
		}
		return &Failure{Kind: KindTransport, Message: apiErr.Message, Action: ActionRetry}
	}
	if errors.Is(err, jobstore.ErrInvalidRequest) {
		return &Failure{Kind: KindValidation, Message: err.Error(), Action: ActionFixAndRetry}
	}
	return &Failure{Kind: KindTransport, Message: "Could not reach the server. Please try again.", Action: ActionRetry}
}

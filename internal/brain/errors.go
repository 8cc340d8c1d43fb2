package brain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes model backend failures.
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request"
	KindAuthentication Kind = "authentication"
	KindNotFound       Kind = "not_found"
	KindQuota          Kind = "quota_exhausted"
	KindProvider       Kind = "provider"
	KindBadReply       Kind = "bad_reply"
)

// Error is a classified model backend failure.
type Error struct {
	Kind       Kind
	Model      string
	Message    string
	HTTPStatus int
}

func (e *Error) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("model %s: %s: %s", e.Model, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// IsQuota reports whether err signals provider rate/quota exhaustion, which
// is degraded-reply territory rather than a hard failure.
func IsQuota(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == KindQuota
}

// classifyStatus maps a Gemini error status (and HTTP code) onto a Kind.
func classifyStatus(status string, httpCode int) Kind {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "RESOURCE_EXHAUSTED":
		return KindQuota
	case "NOT_FOUND":
		return KindNotFound
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION":
		return KindInvalidRequest
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		return KindAuthentication
	}
	switch httpCode {
	case 429:
		return KindQuota
	case 404:
		return KindNotFound
	case 400:
		return KindInvalidRequest
	case 401, 403:
		return KindAuthentication
	}
	return KindProvider
}

// ErrAllCandidatesFailed aggregates per-candidate failures when every model
// in the list failed for non-quota reasons.
type ErrAllCandidatesFailed struct {
	Attempts []error
}

func (e *ErrAllCandidatesFailed) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, err := range e.Attempts {
		parts = append(parts, err.Error())
	}
	return "all model candidates failed: " + strings.Join(parts, "; ")
}

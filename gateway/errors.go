package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	portal "github.com/chimerakang/portal-go"
)

// APIError is a non-2xx backend response.
type APIError struct {
	Status int
	Detail string
	Body   []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("portal/gateway: %d: %s", e.Status, e.Detail)
}

// Is maps status codes onto the portal sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case portal.ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case portal.ErrForbidden:
		return e.Status == http.StatusForbidden
	case portal.ErrNotFound:
		return e.Status == http.StatusNotFound
	case portal.ErrInvalidInput:
		return e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity
	}
	return false
}

// errorBody covers the backend's {"detail": "..."} and the validation form
// {"detail": [{"loc": [...], "msg": "..."}]}.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

type validationIssue struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

func newAPIError(status int, body []byte) *APIError {
	return &APIError{Status: status, Detail: parseDetail(status, body), Body: body}
}

func parseDetail(status int, body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && len(eb.Detail) > 0 {
		var s string
		if err := json.Unmarshal(eb.Detail, &s); err == nil && s != "" {
			return s
		}
		var issues []validationIssue
		if err := json.Unmarshal(eb.Detail, &issues); err == nil && len(issues) > 0 {
			msgs := make([]string, 0, len(issues))
			for _, is := range issues {
				if len(is.Loc) > 0 {
					msgs = append(msgs, fmt.Sprintf("%v: %s", is.Loc[len(is.Loc)-1], is.Msg))
				} else {
					msgs = append(msgs, is.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "request failed"
}

// Message returns a user-facing message for err: the backend's detail when
// there is one, fallback otherwise.
func Message(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}

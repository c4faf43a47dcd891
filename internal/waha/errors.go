// ABOUTME: TransportError and helpers for classifying WAHA HTTP failures
// ABOUTME: Extracts the most useful message from WAHA's varied error bodies

package waha

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// TransportError is returned for any failure reaching WAHA or any non-2xx
// response. StatusCode is 0 when no response was received.
type TransportError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a 404 from WAHA.
func IsNotFound(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err says the resource already exists. WAHA
// answers duplicate session creation with 409 or with 422 and an
// "already exists" message depending on version.
func IsConflict(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	switch te.StatusCode {
	case http.StatusConflict:
		return true
	case http.StatusUnprocessableEntity:
		return strings.Contains(strings.ToLower(te.Message), "already exists")
	}
	return false
}

// errorBody covers the shapes WAHA uses: {"error":{"message":..}},
// {"error":"Not Found","message":..} and {"message":[..]}.
type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message json.RawMessage `json:"message"`
}

// extractMessage returns error.message, then message, then "HTTP <code>".
func extractMessage(status int, body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		var nested struct {
			Message string `json:"message"`
		}
		if len(eb.Error) > 0 && json.Unmarshal(eb.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		if msg := rawMessageText(eb.Message); msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}

// rawMessageText accepts a JSON string or an array of strings.
func rawMessageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var parts []string
	if json.Unmarshal(raw, &parts) == nil {
		return strings.Join(parts, "; ")
	}
	return ""
}

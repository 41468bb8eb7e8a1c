package commerce

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var (
	// ErrCartRejected indicates the commerce backend refused a cart mutation.
	ErrCartRejected = errors.New("commerce: cart rejected")
	// ErrUnavailable indicates the commerce backend could not be reached or failed.
	ErrUnavailable = errors.New("commerce: backend unavailable")
)

const (
	messageStock      = "Unable to add this quantity to cart. Please check the available stock and try again."
	messageSelection  = "Unable to add item to cart. Please check your selection and try again."
	messageConnection = "Unable to add item to cart. Please check your connection and try again."
)

var messagePolicy = bluemonday.StrictPolicy()

// CartError is a structured failure from the commerce backend.
type CartError struct {
	Status      int
	Message     string
	Description string
	Errors      json.RawMessage
	flattened   string
	cause       error
}

func (e *CartError) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("commerce: status %d: %v", e.Status, e.cause)
	}
	return fmt.Sprintf("commerce: status %d: %s", e.Status, e.flattened)
}

func (e *CartError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.cause != nil {
		return e.cause
	}
	if e.Status >= 500 {
		return ErrUnavailable
	}
	return ErrCartRejected
}

// UserMessage returns the message safe to show in the form's inline error slot.
func (e *CartError) UserMessage() string {
	if e == nil {
		return ""
	}
	return e.flattened
}

type errorPayload struct {
	Status      any             `json:"status"`
	Message     string          `json:"message"`
	Description string          `json:"description"`
	Errors      json.RawMessage `json:"errors"`
}

func (p errorPayload) isError() bool {
	switch v := p.Status.(type) {
	case string:
		return strings.EqualFold(v, "error") || strings.EqualFold(v, "bad_request")
	case float64:
		return v >= 400
	}
	return false
}

// newCartError flattens the backend payload: description, then message, then the errors field
// (string, list, quantity, message, first key), then a status based fallback.
func newCartError(status int, p errorPayload) *CartError {
	e := &CartError{Status: status, Message: p.Message, Description: p.Description, Errors: p.Errors}
	msg := firstNonEmpty(p.Description, p.Message)
	if fromErrors := flattenErrors(p.Errors); fromErrors != "" {
		msg = fromErrors
	}
	msg = strings.TrimSpace(html.UnescapeString(messagePolicy.Sanitize(msg)))
	if msg == "" {
		if status == 422 {
			msg = messageStock
		} else {
			msg = messageSelection
		}
	}
	e.flattened = msg
	return e
}

func transportError(err error) *CartError {
	return &CartError{flattened: messageConnection, cause: fmt.Errorf("%w: %v", ErrUnavailable, err)}
}

func flattenErrors(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case []any:
		return joinList(v)
	case map[string]any:
		if q, ok := v["quantity"]; ok {
			return stringOrList(q)
		}
		if m, ok := v["message"]; ok {
			return stringOrList(m)
		}
		keys := orderedKeys(raw)
		if len(keys) == 0 {
			keys = make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
		}
		if len(keys) > 0 {
			return stringOrList(v[keys[0]])
		}
	}
	return ""
}

func stringOrList(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		return joinList(t)
	}
	return ""
}

func joinList(items []any) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		} else if item != nil {
			parts = append(parts, fmt.Sprint(item))
		}
	}
	return strings.Join(parts, ", ")
}

// orderedKeys returns object keys in document order so "first key" matches the payload.
func orderedKeys(raw json.RawMessage) []string {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := tok.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

package services

import (
	"errors"
	"strings"
)

var (
	// ErrFormInvalidInput signals malformed form input such as an empty group name.
	ErrFormInvalidInput = errors.New("order form: invalid input")
	// ErrUnknownService indicates the requested service id is not in the catalog.
	ErrUnknownService = errors.New("order form: unknown service")
	// ErrUnknownOption indicates the group or option does not exist in the active block.
	ErrUnknownOption = errors.New("order form: unknown option")
	// ErrOptionUnavailable indicates the option exists but is hidden or disabled.
	ErrOptionUnavailable = errors.New("order form: option unavailable")
	// ErrInvalidQuantity indicates the quantity is outside the accepted range.
	ErrInvalidQuantity = errors.New("order form: invalid quantity")
	// ErrNoActiveService indicates an operation needs a selected service.
	ErrNoActiveService = errors.New("order form: no active service")
	// ErrSubmissionInProgress is returned while another submission for the same form is in flight.
	ErrSubmissionInProgress = errors.New("order form: submission in progress")
	// ErrNonPositiveTotal indicates the per-unit total cannot be purchased.
	ErrNonPositiveTotal = errors.New("variant resolver: non-positive total")
	// ErrPriceAboveCeiling indicates the total exceeds the configured ceiling or the largest unit price.
	ErrPriceAboveCeiling = errors.New("variant resolver: price above ceiling")
	// ErrVariantNotFound indicates no purchasable unit matches the total exactly.
	ErrVariantNotFound = errors.New("variant resolver: variant not found")
	// ErrPoolRefreshFailed indicates the pool listing could not be re-fetched after a cache miss.
	ErrPoolRefreshFailed = errors.New("variant resolver: pool refresh failed")
)

const (
	messageSelectService = "Please choose a service before adding to cart."
	messageIncomplete    = "Please complete the highlighted options before adding to cart."
	messageAboveCeiling  = "This order total is above what we can take online. Please contact us to complete your order."
	messageNoVariant     = "We couldn't price this combination online. Please contact us to complete your order."
	messageCartGeneric   = "Unable to add item to cart. Please check your selection and try again."
)

// ValidationError lists the visible required clusters that lack a selection, in document order.
type ValidationError struct {
	Groups       []string
	Labels       []string
	FocusGroup   string
	FocusInput   string
	ScrollOffset int
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return "order form: incomplete selection: " + strings.Join(e.Groups, ", ")
}

func (e *ValidationError) Unwrap() error {
	return ErrFormInvalidInput
}

// SubmitErrorKind classifies submission failures.
type SubmitErrorKind string

const (
	// SubmitErrorValidation is user-correctable in place and never reaches the network.
	SubmitErrorValidation SubmitErrorKind = "validation"
	// SubmitErrorPricing is terminal for the attempt; the shopper must change selections or contact support.
	SubmitErrorPricing SubmitErrorKind = "pricing"
	// SubmitErrorTransient covers network and backend failures; the form is preserved for retry.
	SubmitErrorTransient SubmitErrorKind = "transient"
)

// SubmitError carries the user-facing message shown in the form's inline error slot.
type SubmitError struct {
	Kind       SubmitErrorKind
	Message    string
	Validation *ValidationError
	Err        error
}

func (e *SubmitError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *SubmitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// userMessenger is implemented by collaborator errors that carry a message safe to show shoppers.
type userMessenger interface {
	UserMessage() string
}

func userMessage(err error, fallback string) string {
	var messenger userMessenger
	if errors.As(err, &messenger) {
		if msg := strings.TrimSpace(messenger.UserMessage()); msg != "" {
			return msg
		}
	}
	return fallback
}

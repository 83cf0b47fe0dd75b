package mpesa

import (
	"errors"
	"fmt"
	"strings"
)

// Kind tags where a failure came from.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindAuth
	KindGateway
	KindHTTP
	KindTransport
	KindInvalidPhone
	KindActivation
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindGateway:
		return "gateway"
	case KindHTTP:
		return "http"
	case KindTransport:
		return "transport"
	case KindInvalidPhone:
		return "invalid_phone"
	case KindActivation:
		return "activation"
	default:
		return "unknown"
	}
}

// Reason is the structured cause callers map to user-facing text.
type Reason string

const (
	ReasonUnknown             Reason = "unknown"
	ReasonInvalidPhone        Reason = "invalid_phone"
	ReasonInvalidToken        Reason = "invalid_token"
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonProcessing          Reason = "processing"
	ReasonNetwork             Reason = "network"
)

// Provider phrases, as Daraja reports them in errorMessage / ResultDesc.
var providerPhrases = []struct {
	phrase string
	reason Reason
}{
	{"Invalid PhoneNumber", ReasonInvalidPhone},
	{"Invalid Access Token", ReasonInvalidToken},
	{"Insufficient Balance", ReasonInsufficientBalance},
	{"The transaction is being processed", ReasonProcessing},
}

type Error struct {
	Kind       Kind
	Reason     Reason
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("API Error (HTTP %d): %s", e.StatusCode, e.Message)
	case KindTransport:
		return "transport error: " + e.Message
	case KindAuth:
		return "Failed to get access token: " + e.Message
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error and classifies its reason from the kind and the
// provider's message text.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Reason:  classify(kind, message),
		Message: message,
		Err:     err,
	}
}

func newHTTPError(status int, message string) *Error {
	e := NewError(KindHTTP, message, nil)
	e.StatusCode = status
	return e
}

func classify(kind Kind, message string) Reason {
	for _, p := range providerPhrases {
		if strings.Contains(message, p.phrase) {
			return p.reason
		}
	}
	switch kind {
	case KindInvalidPhone:
		return ReasonInvalidPhone
	case KindAuth:
		return ReasonInvalidToken
	case KindTransport:
		return ReasonNetwork
	default:
		return ReasonUnknown
	}
}

// ReasonOf returns the reason carried by err, or ReasonUnknown.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonUnknown
}

// KindOf returns the kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

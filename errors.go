package portalauth

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation reports input rejected by provider-side policy. The user
	// can recover by correcting the input.
	ErrValidation = errors.New("validation error")
	// ErrInvalidCredentials reports an unknown account or wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrConflict reports a sign-up for an account that already exists.
	ErrConflict = errors.New("account already exists")
	// ErrNetwork reports a transport failure or an unusable provider response.
	// It is transient and never retried by this package.
	ErrNetwork = errors.New("network error")
	// ErrConfirmationPending reports a sign-up the provider accepted but will
	// not issue a session for until the e-mail address is confirmed.
	ErrConfirmationPending = errors.New("confirmation pending")
	// ErrAlreadyBootstrapped is returned by a second Bootstrap call.
	ErrAlreadyBootstrapped = errors.New("session already bootstrapped")
	// ErrEngineNotReady is returned by operations on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrNilGateway is returned by Build when no gateway was supplied.
	ErrNilGateway = errors.New("gateway required")
)

// ErrorKind classifies gateway failures. Each kind maps to one sentinel above.
type ErrorKind uint8

const (
	KindNetwork ErrorKind = iota
	KindValidation
	KindInvalidCredentials
	KindConflict
	KindConfirmationPending
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindConflict:
		return "conflict"
	case KindConfirmationPending:
		return "confirmation_pending"
	default:
		return "network"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindInvalidCredentials:
		return ErrInvalidCredentials
	case KindConflict:
		return ErrConflict
	case KindConfirmationPending:
		return ErrConfirmationPending
	default:
		return ErrNetwork
	}
}

// AuthError is the failure half of every gateway result. Message is safe to
// show inline on a form; Code is the provider's machine-readable code when it
// supplied one.
type AuthError struct {
	Kind    ErrorKind
	Message string
	Code    string
	Cause   error
}

// NewAuthError builds an AuthError of the given kind.
func NewAuthError(kind ErrorKind, code, message string) *AuthError {
	return &AuthError{Kind: kind, Code: code, Message: message}
}

// WrapNetwork normalizes an unexpected failure (transport, decode, panic) into
// a network AuthError, keeping the cause for logs.
func WrapNetwork(cause error, message string) *AuthError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &AuthError{Kind: KindNetwork, Message: message, Cause: cause}
}

func (e *AuthError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = e.Kind.sentinel().Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, msg, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap exposes both the kind sentinel and the underlying cause so that
// errors.Is works against either.
func (e *AuthError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Cause != nil {
		return []error{e.Kind.sentinel(), e.Cause}
	}
	return []error{e.Kind.sentinel()}
}

// AsAuthError normalizes any gateway error into an *AuthError. Errors that are
// not already AuthErrors become network errors.
func AsAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	return WrapNetwork(err, "")
}

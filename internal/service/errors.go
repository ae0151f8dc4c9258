package service

import (
	"errors"

	"dropaccess/internal/billing"
)

// Kind classifies a service error for callers deciding on a response.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUpstream
	KindAuthentication
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	case KindAuthentication:
		return "authentication"
	default:
		return "internal"
	}
}

var (
	ErrInvalidPlan          = errors.New("invalid plan")
	ErrUserNotFound         = errors.New("user not found")
	ErrAlreadySubscribed    = errors.New("user already has an active subscription")
	ErrNoBillingAccount     = errors.New("user has no billing account")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrUnauthorized         = errors.New("unauthorized")
)

var sentinelKinds = map[error]Kind{
	ErrInvalidPlan:          KindValidation,
	ErrUserNotFound:         KindNotFound,
	ErrAlreadySubscribed:    KindConflict,
	ErrNoBillingAccount:     KindNotFound,
	ErrNoActiveSubscription: KindNotFound,
	ErrUnauthorized:         KindAuthentication,
}

// Error carries the kind and failing operation alongside the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// upstream wraps a failed provider call, keeping its message.
func upstream(op string, err error) error {
	return &Error{Kind: KindUpstream, Op: op, Err: err}
}

// KindOf reports the kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	for sentinel, kind := range sentinelKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	switch {
	case errors.Is(err, billing.ErrInvalidSignature):
		return KindAuthentication
	case errors.Is(err, billing.ErrMalformedEvent):
		return KindValidation
	}
	var pe *billing.ProviderError
	if errors.As(err, &pe) {
		return KindUpstream
	}
	return KindInternal
}

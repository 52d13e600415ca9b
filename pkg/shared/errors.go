package shared

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// Kind classifies why the flow halted. Every kind is fatal; a timeout is kept
// apart from a revert because the funds may already be in flight.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindProvisioning
	KindApproval
	KindSubmission
	KindMalformedReceipt
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindProvisioning:
		return "provisioning"
	case KindApproval:
		return "approval"
	case KindSubmission:
		return "submission"
	case KindMalformedReceipt:
		return "malformed_receipt"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// TextCode is the operator-facing code for the kind.
func (k Kind) TextCode() string {
	switch k {
	case KindConfiguration:
		return "CONFIGURATION_ERROR"
	case KindProvisioning:
		return "PROVISIONING_ERROR"
	case KindApproval:
		return "APPROVAL_ERROR"
	case KindSubmission:
		return "SUBMISSION_ERROR"
	case KindMalformedReceipt:
		return "MALFORMED_RECEIPT"
	case KindTimeout:
		return "INCLUSION_TIMEOUT"
	default:
		return "INTERNAL_ERROR"
	}
}

func (k Kind) category() goerrors.Category {
	switch k {
	case KindConfiguration:
		return goerrors.CategoryBadInput
	case KindApproval, KindSubmission:
		return goerrors.CategoryOperation
	case KindProvisioning, KindMalformedReceipt, KindTimeout:
		return goerrors.CategoryExternal
	default:
		return goerrors.CategoryInternal
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
	Meta map[string]any
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithMeta attaches operator context, such as the hash a timed out wait was
// tracking.
func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

func (e *Error) ToServiceError() *goerrors.Error {
	meta := map[string]any{"op": e.Op, "kind": e.Kind.String()}
	for k, v := range e.Meta {
		meta[k] = v
	}
	return goerrors.New(e.Error(), e.Kind.category()).
		WithCode(1).
		WithTextCode(e.Kind.TextCode()).
		WithMetadata(meta)
}

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

// Report converts any error into the go-errors envelope shown to operators.
func Report(err error) *goerrors.Error {
	var e *Error
	if errors.As(err, &e) {
		return e.ToServiceError()
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "bridge flow failed").
		WithCode(1).
		WithTextCode(KindUnknown.TextCode())
}

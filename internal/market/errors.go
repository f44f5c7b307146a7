package market

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

// Fault kinds. Every error leaving a pipeline stage wraps exactly one of these.
var (
	ErrSourceUnavailable   = errors.New("source unavailable")
	ErrSourceFormatChanged = errors.New("source format changed")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrDegenerateReturn    = errors.New("degenerate return")
	ErrWriteRejected       = errors.New("write rejected")
	ErrEmptyMetricSet      = errors.New("empty metric set")
	ErrDeliveryFailed      = errors.New("delivery failed")
	ErrUnclassified        = errors.New("unclassified fault")
)

var kindNames = []struct {
	kind error
	name string
}{
	{ErrSourceUnavailable, "SourceUnavailable"},
	{ErrSourceFormatChanged, "SourceFormatChanged"},
	{ErrInsufficientHistory, "InsufficientHistory"},
	{ErrDegenerateReturn, "DegenerateReturn"},
	{ErrWriteRejected, "WriteRejected"},
	{ErrEmptyMetricSet, "EmptyMetricSet"},
	{ErrDeliveryFailed, "DeliveryFailed"},
}

// Fault carries a classified failure together with the stack where it was raised.
type Fault struct {
	Kind   error
	Op     string
	Ticker string
	Err    error
	Stack  []byte
}

// NewFault classifies err under kind and captures the current goroutine stack.
func NewFault(kind error, op, ticker string, err error) *Fault {
	if kind == nil {
		kind = ErrUnclassified
	}
	return &Fault{
		Kind:   kind,
		Op:     op,
		Ticker: ticker,
		Err:    err,
		Stack:  debug.Stack(),
	}
}

// Faultf is NewFault with a formatted cause.
func Faultf(kind error, op, ticker, format string, args ...any) *Fault {
	return NewFault(kind, op, ticker, fmt.Errorf(format, args...))
}

func (f *Fault) Error() string {
	var b strings.Builder
	b.WriteString(f.Op)
	if f.Ticker != "" {
		b.WriteString(" [")
		b.WriteString(f.Ticker)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(f.Kind.Error())
	if f.Err != nil {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is / errors.As.
func (f *Fault) Unwrap() []error {
	if f.Err == nil {
		return []error{f.Kind}
	}
	return []error{f.Kind, f.Err}
}

// KindName returns the taxonomy name of the fault kind.
func (f *Fault) KindName() string {
	return KindName(f.Kind)
}

// KindName maps a kind sentinel (or any error wrapping one) to its taxonomy name.
func KindName(err error) string {
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return "Unclassified"
}

// AsFault returns err as a Fault, classifying unknown errors as ErrUnclassified.
func AsFault(op string, err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return NewFault(k.kind, op, "", err)
		}
	}
	return NewFault(ErrUnclassified, op, "", err)
}

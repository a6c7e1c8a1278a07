// Package chain runs an ordered list of fallback strategies and returns the
// first success.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrSkip lets a strategy decline without it being recorded as a failure,
// e.g. when an optional API key is not configured.
var ErrSkip = errors.New("strategy skipped")

// Strategy is one named way of producing O from I.
type Strategy[I, O any] struct {
	Name    string
	Attempt func(ctx context.Context, in I) (O, error)
}

// Failure records why a strategy did not produce a value.
type Failure struct {
	Strategy string
	Err      error
}

// Exhausted is returned when every strategy failed or was skipped.
type Exhausted struct {
	Failures []Failure
}

func (e *Exhausted) Error() string {
	if len(e.Failures) == 0 {
		return "no strategy produced a result"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Strategy, f.Err))
	}
	return "all strategies failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes each failure to errors.Is and errors.As.
func (e *Exhausted) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Last returns the most recent failure cause, or nil.
func (e *Exhausted) Last() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[len(e.Failures)-1].Err
}

type fatalError struct{ err error }

func (f *fatalError) Error() string { return f.err.Error() }
func (f *fatalError) Unwrap() error { return f.err }

// Fatal marks err as terminal: Run stops and returns it without trying the
// remaining strategies.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}

// Run tries each strategy in order. It returns the first success together
// with the name of the strategy that produced it.
func Run[I, O any](ctx context.Context, in I, strategies ...Strategy[I, O]) (O, string, error) {
	var zero O
	exhausted := &Exhausted{}

	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			exhausted.Failures = append(exhausted.Failures, Failure{Strategy: s.Name, Err: err})
			return zero, "", exhausted
		}

		out, err := s.Attempt(ctx, in)
		if err == nil {
			return out, s.Name, nil
		}
		if errors.Is(err, ErrSkip) {
			continue
		}
		var f *fatalError
		if errors.As(err, &f) {
			return zero, s.Name, f.err
		}
		exhausted.Failures = append(exhausted.Failures, Failure{Strategy: s.Name, Err: err})
	}

	return zero, "", exhausted
}

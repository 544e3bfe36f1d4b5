// Package panicerr keeps a panicking background component from taking the
// whole process down silently.
package panicerr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/panics"
)

// Go wraps fn for errgroup.Go: a panic comes back as an error naming the
// component, so the group shuts the process down cleanly.
func Go(component string, fn func() error) func() error {
	return func() error {
		var (
			catcher panics.Catcher
			err     error
		)
		catcher.Try(func() {
			err = fn()
		})
		if r := catcher.Recovered(); r != nil {
			return fmt.Errorf("%s panicked: %w", component, r.AsError())
		}
		return err
	}
}

// Run calls fn and logs a panic instead of propagating it. Periodic jobs
// use it so one bad run does not stop the schedule.
func Run(ctx context.Context, component string, fn func()) (panicked bool) {
	var catcher panics.Catcher
	catcher.Try(fn)
	r := catcher.Recovered()
	if r == nil {
		return false
	}
	slog.ErrorContext(ctx, "recovered panic", "component", component, "panic", fmt.Sprint(r.Value), "stack", string(r.Stack))
	return true
}

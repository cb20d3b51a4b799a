package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds concurrent refreshes when no limit is given.
const DefaultConcurrency = 8

// ResurrectError collects the conversations that failed to refresh.
type ResurrectError struct {
	Failures map[string]error // chat ID -> refresh error
}

func (e *ResurrectError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Failures[id]))
	}
	return fmt.Sprintf("resurrect: %d conversation(s) failed: %s", len(ids), strings.Join(parts, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *ResurrectError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}

// Result summarises one Resurrect run.
type Result struct {
	Total  int
	Failed int
}

// Resurrect refreshes every conversation, at most limit at a time, and
// waits for all of them. It returns a *ResurrectError naming each failure,
// or nil when every refresh succeeded.
func Resurrect(ctx context.Context, convs []Conversation, limit int) (Result, error) {
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	var (
		mu       sync.Mutex
		failures = make(map[string]error)
	)

	// Goroutines never return an error so the group context is not
	// cancelled by a sibling failure.
	g := new(errgroup.Group)
	g.SetLimit(limit)

	for _, conv := range convs {
		conv := conv
		g.Go(func() error {
			err := refresh(ctx, conv)
			if err != nil {
				mu.Lock()
				failures[conv.ChatID()] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	result := Result{Total: len(convs), Failed: len(failures)}
	if len(failures) == 0 {
		return result, nil
	}
	return result, &ResurrectError{Failures: failures}
}

// refresh converts a panicking handle into an error.
func refresh(ctx context.Context, conv Conversation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh panicked: %v", r)
		}
	}()

	if err := conv.RefreshMessages(ctx); err != nil {
		return err
	}
	return nil
}

// IsResurrectError reports whether err carries per-conversation failures.
func IsResurrectError(err error) bool {
	var re *ResurrectError
	return errors.As(err, &re)
}

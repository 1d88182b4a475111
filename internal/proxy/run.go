package proxy

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Run drives the Session until ctx is cancelled or the editor connection
// closes on its own, whichever happens first (spec.md §5 "Scheduling
// model"). The editor's reader/writer loop and each child's own
// reader/writer pair (already started independently by
// child.Manager.GetOrStart, one per language) together form the "N+2
// logical tasks" spec.md §5 describes; Run only has to supervise the one
// task it directly owns, RunStdio, and react to cancellation the way the
// teacher's cmd/yammm-lsp/main.go selects on shutdown signals.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.RunStdio(); err != nil && !isCleanShutdown(err) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		if err := s.Close(); err != nil {
			return err
		}
		// Close doesn't unblock a read already in flight on os.Stdin; the
		// teacher's main.go closes stdin directly for the same reason.
		_ = os.Stdin.Close()
		return nil
	})

	return g.Wait()
}

// isCleanShutdown reports whether err represents a normal client
// disconnect rather than a genuine failure, carried over from the
// teacher's cmd/yammm-lsp/main.go.
func isCleanShutdown(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "EPIPE")
}

package engine

import (
	"context"
	"errors"
	"time"
)

// Schedule runs a cycle immediately and then once per interval until ctx
// is done. Ticks that fire while a cycle is still running are dropped, as
// are ticks that collide with a manually triggered cycle. onReport, if
// non-nil, receives every report that was produced.
func (s *Sequencer) Schedule(ctx context.Context, interval time.Duration, onReport func(*Report)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rep, err := s.Run(ctx)
		switch {
		case errors.Is(err, ErrCycleInProgress):
			s.log.Info("tick skipped, cycle already running")
		case err != nil && ctx.Err() == nil:
			s.log.Error("scheduled cycle failed", "err", err)
		}
		if rep != nil && onReport != nil {
			onReport(rep)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

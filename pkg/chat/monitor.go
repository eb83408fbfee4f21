package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
)

// monitor pings the active peer every LivenessInterval until a ping fails,
// ctx is cancelled or generation gen is no longer current.
func (s *Session) monitor(ctx context.Context, gen uint64, id peer.ID) {
	timer := time.NewTimer(s.cfg.LivenessInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if !s.livenessTick(ctx, gen, id) {
			return
		}
		timer.Reset(s.cfg.LivenessInterval)
	}
}

// livenessTick runs one probe for generation gen and reports whether the
// loop should be rescheduled. A tick for a stale generation does nothing.
func (s *Session) livenessTick(ctx context.Context, gen uint64, id peer.ID) bool {
	if !s.current(gen) {
		return false
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.PingTimeout)
	err := s.overlay.Ping(pctx, id)
	cancel()

	if !s.current(gen) || ctx.Err() != nil {
		return false
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "livenessTick",
			"peer":       ShortID(id),
			"generation": gen,
			"error":      err.Error(),
		}).Warn("Peer stopped answering pings")
		s.teardown(gen, fmt.Errorf("%w: %v", ErrConnectionLost, err))
		return false
	}
	return true
}

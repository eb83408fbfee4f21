package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
)

// Prober pings a peer until it answers or a wall-clock deadline passes.
type Prober struct {
	pinger   Pinger
	deadline time.Duration
	interval time.Duration
}

func NewProber(p Pinger, deadline, interval time.Duration) *Prober {
	return &Prober{pinger: p, deadline: deadline, interval: interval}
}

// Probe returns nil on the first successful ping and ErrUnreachable once the
// deadline has elapsed. Cancelling ctx aborts with ctx.Err().
func (p *Prober) Probe(ctx context.Context, id peer.ID) error {
	pctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if pctx.Err() != nil {
			return fmt.Errorf("%w: no answer from %s after %d attempts", ErrUnreachable, ShortID(id), attempt)
		}

		attempt++
		err := p.pinger.Ping(pctx, id)
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"function": "Probe",
				"peer":     ShortID(id),
				"attempt":  attempt,
			}).Debug("Peer answered ping")
			return nil
		}
		logrus.WithFields(logrus.Fields{
			"function": "Probe",
			"peer":     ShortID(id),
			"attempt":  attempt,
			"error":    err.Error(),
		}).Debug("Ping failed, retrying")

		timer := time.NewTimer(p.interval)
		select {
		case <-pctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

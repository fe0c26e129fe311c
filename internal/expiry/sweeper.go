package expiry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"zyura/internal/command"
	"zyura/internal/core"
	"zyura/internal/protocol"
)

// Sweeper periodically submits SweepExpired so lapsed policies get
// retired without waiting for an operator. Each sweep is a normal
// command: it flows through the log and the hash chain like any other.
type Sweeper struct {
	inbox    chan<- core.Submission
	actor    uuid.UUID
	interval time.Duration
	log      zerolog.Logger
}

func NewSweeper(inbox chan<- core.Submission, actor uuid.UUID, interval time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		inbox:    inbox,
		actor:    actor,
		interval: interval,
		log:      log,
	}
}

// Run sweeps on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now().Unix()
	cmd := &command.SweepExpired{
		CommandID: uuid.New(),
		ActorID:   s.actor,
		Sequence:  now,
		Timestamp: now,
	}

	reply := make(chan core.SubmissionReply, 1)
	select {
	case s.inbox <- core.Submission{Command: cmd, Reply: reply}:
	case <-ctx.Done():
		return
	}

	select {
	case r := <-reply:
		if r.Err != nil {
			// Quiet before Initialize; anything else is worth a log line.
			if errors.Is(r.Err, protocol.ErrNotInitialized) {
				return
			}
			s.log.Warn().Err(r.Err).Msg("sweep failed")
			return
		}
		if len(r.Result.ExpiredPolicies) > 0 {
			s.log.Info().
				Int("expired", len(r.Result.ExpiredPolicies)).
				Int64("sequence", r.Result.Sequence).
				Msg("swept lapsed policies")
		}
	case <-ctx.Done():
	}
}

package executor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// StreamIntake tails a durable bus stream of JSON order intents and forwards
// them to the executor channel.
type StreamIntake struct {
	bus    domain.SignalBus
	stream string
	out    chan<- domain.OrderIntent
	logger *slog.Logger

	lastID string
	batch  int
	idle   time.Duration
}

// NewStreamIntake creates an intake reading stream from the beginning.
func NewStreamIntake(bus domain.SignalBus, stream string, out chan<- domain.OrderIntent, logger *slog.Logger) *StreamIntake {
	return &StreamIntake{
		bus:    bus,
		stream: stream,
		out:    out,
		logger: logger.With(slog.String("component", "stream_intake")),
		lastID: "0",
		batch:  50,
		idle:   250 * time.Millisecond,
	}
}

// SetStartID sets the stream id after which entries are read.
func (s *StreamIntake) SetStartID(id string) { s.lastID = id }

// LastID returns the id of the last entry forwarded or skipped.
func (s *StreamIntake) LastID() string { return s.lastID }

// Run reads until ctx is cancelled. Read errors are logged and retried after
// the idle interval. Undecodable entries are skipped.
func (s *StreamIntake) Run(ctx context.Context) error {
	s.logger.Info("stream intake started", slog.String("stream", s.stream))
	defer s.logger.Info("stream intake stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := s.bus.StreamRead(ctx, s.stream, s.lastID, s.batch)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.WarnContext(ctx, "stream_intake: read failed", slog.String("error", err.Error()))
			if !s.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		if len(msgs) == 0 {
			if !s.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		for _, m := range msgs {
			s.lastID = m.ID
			var intent domain.OrderIntent
			if err := json.Unmarshal(m.Payload, &intent); err != nil {
				s.logger.WarnContext(ctx, "stream_intake: bad intent",
					slog.String("id", m.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case s.out <- intent:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (s *StreamIntake) sleep(ctx context.Context) bool {
	t := time.NewTimer(s.idle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Package notify delivers engine events to the outside world.
package notify

import (
	"context"

	"tinnicap/internal/logging"
	"tinnicap/internal/usecase"
)

// Sink consumes engine events. Handle must not block for long; it runs on the
// forwarding goroutine, never on the engine loop.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev usecase.Event) error
}

// Forward feeds every event from sub to sinks until ctx is done or sub is closed.
// A failing sink is logged and does not stop the others.
func Forward(ctx context.Context, sub *usecase.Subscription, sinks ...Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			for _, s := range sinks {
				if err := s.Handle(ctx, ev); err != nil {
					logging.Warnf("notify: %s sink: %v", s.Name(), err)
				}
			}
		}
	}
}

// LogSink writes every event to the structured log at info level.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Handle(_ context.Context, ev usecase.Event) error {
	if ev.Violation == nil {
		logging.Infof("event %s: %s", ev.ID, ev.Kind)
		return nil
	}
	n := ViolationNotice(*ev.Violation)
	logging.Logger().Info(n.Message,
		"event", string(ev.Kind),
		"id", ev.ID,
		"device", ev.Violation.Device.StableID,
		"mode", string(ev.Violation.Mode),
	)
	return nil
}

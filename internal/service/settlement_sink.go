package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/alanyoungcy/polyshadow/internal/notify"
)

// SettlementSink relays committed settlements to the signal bus and the
// notifier. Both are optional.
type SettlementSink struct {
	bus      domain.SignalBus
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewSettlementSink creates a SettlementSink.
func NewSettlementSink(bus domain.SignalBus, notifier *notify.Notifier, logger *slog.Logger) *SettlementSink {
	return &SettlementSink{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "settlement_sink")),
	}
}

// Settled publishes ev. Failures are logged; the settlement is already
// committed.
func (s *SettlementSink) Settled(ctx context.Context, ev domain.SettlementEvent) {
	if err := broadcast(ctx, s.bus, domain.ChannelSettlements, ev); err != nil {
		s.logger.WarnContext(ctx, "publishing settlement failed",
			slog.String("condition_id", ev.ConditionID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.notifier.Settlement(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "settlement notification failed", slog.String("error", err.Error()))
	}
}

// broadcast publishes v to live subscribers and appends it to the channel's
// stream. A nil bus is a no-op.
func broadcast(ctx context.Context, bus domain.SignalBus, channel string, v any) error {
	if bus == nil {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", channel, err)
	}
	if err := bus.Publish(ctx, channel, payload); err != nil {
		return err
	}
	return bus.StreamAppend(ctx, channel, payload)
}

package collector

import (
	"context"
	"log/slog"

	"github.com/absmach/fedround/pkg/messages"
	"github.com/absmach/fedround/pkg/mqtt"
)

// Subscribe feeds aggregator notifications published on topic to svc.
// Undecodable notifications are dropped.
func Subscribe(ctx context.Context, pubsub mqtt.PubSub, topic string, svc Service, logger *slog.Logger) error {
	return pubsub.Subscribe(ctx, topic, handleNotification(ctx, svc, logger))
}

func handleNotification(ctx context.Context, svc Service, logger *slog.Logger) mqtt.Handler {
	return func(topic string, msg map[string]any) error {
		n, err := messages.FromMap(msg)
		if err != nil {
			logger.Warn("dropping malformed aggregator notification",
				slog.String("topic", topic),
				slog.Any("error", err))

			return nil
		}

		return svc.HandleAggregatorNotification(ctx, n)
	}
}

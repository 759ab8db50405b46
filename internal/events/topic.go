package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/pitabwire/eapp/internal/config"
)

// topicAdmin is the subset of *kadm.Client used to bootstrap the topic.
type topicAdmin interface {
	CreateTopic(ctx context.Context, partitions int32, replicationFactor int16, configs map[string]*string, topic string) (kadm.CreateTopicResponse, error)
}

// EnsureTopic creates the configured topic if the cluster does not have it.
// An existing topic is left untouched.
func EnsureTopic(ctx context.Context, cfg config.EventsConfig, logger *zap.Logger) error {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
	)
	if err != nil {
		return fmt.Errorf("events: create admin client: %w", err)
	}
	defer client.Close()

	return ensureTopic(ctx, kadm.NewClient(client), cfg, logger)
}

func ensureTopic(ctx context.Context, admin topicAdmin, cfg config.EventsConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	// One week.
	retention := "604800000"
	resp, err := admin.CreateTopic(ctx, cfg.Partitions, cfg.ReplicationFactor,
		map[string]*string{"retention.ms": &retention}, cfg.Topic)
	if err == nil {
		err = resp.Err
	}
	switch {
	case err == nil:
		logger.Info("event topic created",
			zap.String("topic", cfg.Topic),
			zap.Int32("partitions", cfg.Partitions),
		)
		return nil
	case errors.Is(err, kerr.TopicAlreadyExists):
		logger.Debug("event topic exists", zap.String("topic", cfg.Topic))
		return nil
	default:
		return fmt.Errorf("events: create topic %s: %w", cfg.Topic, err)
	}
}

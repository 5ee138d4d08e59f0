package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Cathyyyy1/anomaly-monitor/internal/config"
	"github.com/Cathyyyy1/anomaly-monitor/internal/model"
)

// Publisher pushes anomalous frame reports to a Kafka topic, keyed by
// the first anomaly's object label. Publishing is best-effort: errors
// are logged and the pipeline keeps going.
type Publisher struct {
	writer   *kafka.Writer
	cooldown *Cooldown
	wait     time.Duration
	logger   *slog.Logger
}

func NewPublisher(cfg config.PublishConfig, logger *slog.Logger) *Publisher {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("publisher disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("publisher enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
		cooldown: NewCooldown(),
		wait:     cfg.Cooldown,
		logger:   logger,
	}
}

// Publish sends the report if it carries anomalies and the lead
// object's cooldown has elapsed.
func (p *Publisher) Publish(ctx context.Context, report model.FrameReport) {
	if p == nil || !report.Result.HasAnomaly {
		return
	}
	key := report.Result.Anomalies[0].Object
	if !p.cooldown.Allow(key, p.wait) {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("publish encode error", "err", err)
		}
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
	})
	if err != nil && p.logger != nil {
		p.logger.Warn("publish error", "err", err)
	}
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

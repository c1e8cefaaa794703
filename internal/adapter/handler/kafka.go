package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/procurement-bridge/internal/config"
	"github.com/fairyhunter13/procurement-bridge/internal/domain"
	"github.com/fairyhunter13/procurement-bridge/internal/plugin"
)

const defaultTopic = "resource-items"

func init() {
	plugin.RegisterHandler("reporting", func(cfg *config.Config, db domain.Storage) (domain.Handler, error) {
		return NewKafka(cfg, db)
	})
}

// Kafka persists the item like the basic handler and then forwards it to a
// Kafka topic for downstream consumers.
type Kafka struct {
	db     domain.Storage
	client *kgo.Client
	topic  string
}

// NewKafka connects a producer from the kafka section of the configuration.
func NewKafka(cfg *config.Config, db domain.Storage) (*Kafka, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka handler: no brokers configured")
	}
	topic := cfg.Kafka.Topic
	if topic == "" {
		topic = defaultTopic
	}

	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))),
	)
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Kafka.Brokers...),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.RequestRetries(10),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka handler: client: %w", err)
	}
	if err := ensureTopic(context.Background(), client, topic); err != nil {
		slog.Warn("failed to create topic, it may already exist",
			slog.String("topic", topic), slog.Any("error", err))
	}
	slog.Info("kafka handler ready",
		slog.Any("brokers", cfg.Kafka.Brokers), slog.String("topic", topic))
	return &Kafka{db: db, client: client, topic: topic}, nil
}

// Close shuts down the producer.
func (h *Kafka) Close() {
	if h.client != nil {
		h.client.Close()
	}
}

// Process implements domain.Handler.
func (h *Kafka) Process(ctx context.Context, item domain.ResourceItem) error {
	if h.db != nil {
		if err := h.db.Upsert(ctx, item); err != nil {
			return fmt.Errorf("upsert %s: %w", item.ID, err)
		}
	}
	value := item.Raw
	if value == nil {
		b, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", item.ID, err)
		}
		value = b
	}
	record := &kgo.Record{
		Topic: h.topic,
		// Key by resource id so updates to one resource stay ordered.
		Key:   []byte(item.ID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "dateModified", Value: []byte(item.DateModified)},
			{Key: "procurementMethodType", Value: []byte(item.ProcurementMethodType)},
		},
	}
	if err := h.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce %s: %w", item.ID, err)
	}
	slog.Debug("forwarded resource item",
		slog.String("resource_id", item.ID), slog.String("topic", h.topic))
	return nil
}

// ensureTopic creates the topic when missing; "already exists" is fine.
func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000
	t := kmsg.NewCreateTopicsRequestTopic()
	t.Topic = topic
	t.NumPartitions = 1
	t.ReplicationFactor = 1
	req.Topics = append(req.Topics, t)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("create topics request: %w", err)
	}
	ctr, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("unexpected response type: %T", resp)
	}
	for _, tr := range ctr.Topics {
		// Error code 36 is TOPIC_ALREADY_EXISTS.
		if tr.ErrorCode != 0 && tr.ErrorCode != 36 {
			return fmt.Errorf("create topic %s: error code %d", tr.Topic, tr.ErrorCode)
		}
	}
	return nil
}

// Package intake reads domain events from a Redis Stream consumer group and
// hands them to the dispatcher.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/model"
)

const (
	fieldTenant    = "organization_id"
	fieldEventType = "event_type"
	fieldData      = "data"

	blockTimeout    = time.Second
	errorRetryDelay = time.Second
)

// Trigger is satisfied by *webhooks.Dispatcher.
type Trigger interface {
	Trigger(ctx context.Context, tenantID, eventType string, data any) model.DeliverySummary
}

type Consumer struct {
	rdb        *redis.Client
	Stream     string
	Group      string
	Name       string
	Count      int64
	Dispatcher Trigger
	Log        *slog.Logger
}

func NewConsumer(rdb *redis.Client, stream, group, name string, d Trigger) *Consumer {
	return &Consumer{rdb: rdb, Stream: stream, Group: group, Name: name, Count: 10, Dispatcher: d, Log: slog.Default()}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	c.Log.Info("starting event intake", "stream", c.Stream, "group", c.Group, "consumer", c.Name)
	for {
		select {
		case <-ctx.Done():
			c.Log.Info("event intake stopped")
			return nil
		default:
		}
		if err := c.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Log.Error("error consuming events", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(errorRetryDelay):
			}
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.Stream, c.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (c *Consumer) consumeOnce(ctx context.Context) error {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.Group,
		Consumer: c.Name,
		Streams:  []string{c.Stream, ">"},
		Count:    c.Count,
		Block:    blockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, s := range streams {
		for _, msg := range s.Messages {
			c.Process(ctx, msg)
			if err := c.rdb.XAck(ctx, c.Stream, c.Group, msg.ID).Err(); err != nil {
				c.Log.Error("failed to ack event", "message_id", msg.ID, "error", err)
			}
		}
	}
	return nil
}

// Process triggers one stream entry. Malformed entries are logged and
// skipped so they cannot wedge the group.
func (c *Consumer) Process(ctx context.Context, msg redis.XMessage) {
	tenant, eventType, data, err := ParseEntry(msg.Values)
	if err != nil {
		c.Log.Warn("dropping malformed event", "message_id", msg.ID, "error", err)
		return
	}
	sum := c.Dispatcher.Trigger(ctx, tenant, eventType, data)
	c.Log.Debug("event dispatched", "message_id", msg.ID, "tenant_id", tenant, "event", eventType,
		"triggered", sum.Triggered, "successful", sum.Successful, "failed", sum.Failed)
}

// ParseEntry extracts the tenant, event type and JSON data of an entry.
// A missing data field means null data. Numbers are kept as json.Number.
func ParseEntry(values map[string]any) (tenant, eventType string, data any, err error) {
	tenant = strings.TrimSpace(str(values[fieldTenant]))
	eventType = strings.TrimSpace(str(values[fieldEventType]))
	if tenant == "" {
		return "", "", nil, fmt.Errorf("missing %s", fieldTenant)
	}
	if eventType == "" {
		return "", "", nil, fmt.Errorf("missing %s", fieldEventType)
	}
	if raw := str(values[fieldData]); raw != "" {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&data); err != nil {
			return "", "", nil, fmt.Errorf("parse %s: %w", fieldData, err)
		}
		if dec.More() {
			return "", "", nil, fmt.Errorf("parse %s: trailing data", fieldData)
		}
	}
	return tenant, eventType, data, nil
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes pool state-transition notifications to a Redis
// Pub/Sub channel so out-of-process observers (dashboards, paging
// integrations) can react without polling the pool directly. It never
// blocks borrow/return callers beyond the publish round trip, and a
// publish failure is logged and swallowed — alert delivery is best effort,
// never a reason to fail a borrow.
type RedisSink struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

// Event is the payload published for every notification.
type Event struct {
	Kind      string `json:"kind"` // "down", "up", or "warning"
	Pool      string `json:"pool"`
	Message   string `json:"message,omitempty"`
	UnixMilli int64  `json:"unix_milli"`
}

// NewRedisSink builds a sink publishing to "pool-alerts:<channel>" on the
// given client. channel is typically the pool name, so multiple pools
// sharing a Redis instance don't cross-notify.
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{
		client:  client,
		channel: "pool-alerts:" + channel,
		timeout: 3 * time.Second,
	}
}

func (s *RedisSink) publish(kind, poolName, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	payload, err := json.Marshal(Event{
		Kind:      kind,
		Pool:      poolName,
		Message:   message,
		UnixMilli: time.Now().UnixMilli(),
	})
	if err != nil {
		log.Printf("[alert] redis sink: marshal event: %v", err)
		return
	}

	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		log.Printf("[alert] redis sink: publish to %s failed: %v", s.channel, err)
	}
}

func (s *RedisSink) OnDown(poolName string) {
	s.publish("down", poolName, "")
}

func (s *RedisSink) OnUp(poolName string) {
	s.publish("up", poolName, "")
}

func (s *RedisSink) OnWarning(poolName, message string) {
	s.publish("warning", poolName, message)
}

// Subscribe returns a channel of decoded Events for poolName, for
// observers running in a different process than the pool itself.
func (s *RedisSink) Subscribe(ctx context.Context, poolName string) (<-chan Event, error) {
	sub := s.client.Subscribe(ctx, "pool-alerts:"+poolName)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe to pool-alerts:%s: %w", poolName, err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for msg := range ch {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("[alert] redis sink: decode event: %v", err)
				continue
			}
			select {
			case out <- ev:
			default:
				// Slow consumer — drop rather than block publishers.
			}
		}
	}()
	return out, nil
}

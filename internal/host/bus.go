package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
)

// AnySender matches broadcasts from every sender.
const AnySender = "*"

var (
	// ErrAwaitTimeout is returned when no matching broadcast arrives in time.
	ErrAwaitTimeout = errors.New("timed out waiting for broadcast")
	// ErrSubscriptionClosed is returned by Next after Close.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// Message is one broadcast received on a topic.
type Message struct {
	Sender  string
	Topic   string
	Payload []byte
}

// envelope is the wire form of a broadcast. Publishers that send a bare
// payload are seen as an anonymous sender.
type envelope struct {
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func decodeMessage(topic, raw string) Message {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err == nil && env.Sender != "" {
		return Message{Sender: env.Sender, Topic: topic, Payload: env.Payload}
	}
	return Message{Topic: topic, Payload: []byte(raw)}
}

// Bus is a publish/subscribe bus over Redis channels. It never buffers:
// a broadcast sent before a subscription is confirmed is not delivered to it.
type Bus struct {
	client *redis.Client
	clock  clock.Clock
}

// NewBus creates a Bus. A nil clock uses the wall clock.
func NewBus(client *redis.Client, clk clock.Clock) *Bus {
	if clk == nil {
		clk = clock.New()
	}
	return &Bus{client: client, clock: clk}
}

// Publish broadcasts payload on topic on behalf of sender.
func (b *Bus) Publish(ctx context.Context, sender, topic string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload for %s: %w", topic, err)
		}
		raw = data
	}
	data, err := json.Marshal(envelope{Sender: sender, Payload: raw})
	if err != nil {
		return fmt.Errorf("failed to encode broadcast for %s: %w", topic, err)
	}
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("Redis PUBLISH %s failed: %w", topic, err)
	}
	return nil
}

// Subscription receives broadcasts on one topic from senders matching a filter.
type Subscription struct {
	topic  string
	filter string
	ps     *redis.PubSub
	ch     <-chan *redis.Message
	once   sync.Once
	err    error
}

// Subscribe subscribes to topic and returns once Redis has confirmed the
// subscription, so broadcasts sent after it returns are observed.
func (b *Bus) Subscribe(ctx context.Context, senderFilter, topic string) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("Redis SUBSCRIBE %s failed: %w", topic, err)
	}
	return &Subscription{
		topic:  topic,
		filter: senderFilter,
		ps:     ps,
		ch:     ps.Channel(),
	}, nil
}

func (s *Subscription) matches(m Message) bool {
	return s.filter == "" || s.filter == AnySender || s.filter == m.Sender
}

// Next blocks until a matching broadcast arrives or ctx is done.
func (s *Subscription) Next(ctx context.Context) (Message, error) {
	return s.next(ctx, nil)
}

func (s *Subscription) next(ctx context.Context, expired <-chan time.Time) (Message, error) {
	for {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-expired:
			return Message{}, ErrAwaitTimeout
		case rm, ok := <-s.ch:
			if !ok {
				return Message{}, ErrSubscriptionClosed
			}
			m := decodeMessage(s.topic, rm.Payload)
			if s.matches(m) {
				return m, nil
			}
		}
	}
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.err = s.ps.Close()
	})
	return s.err
}

// AwaitFirst subscribes to topic, runs onSubscribed once the subscription is
// live, and returns the first matching broadcast. The subscription is always
// removed before returning. A timeout of zero waits until ctx is done.
func (b *Bus) AwaitFirst(ctx context.Context, senderFilter, topic string, timeout time.Duration,
	onSubscribed func(context.Context) error) (Message, error) {

	sub, err := b.Subscribe(ctx, senderFilter, topic)
	if err != nil {
		return Message{}, err
	}
	defer sub.Close()

	if onSubscribed != nil {
		if err := onSubscribed(ctx); err != nil {
			return Message{}, err
		}
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := b.clock.Timer(timeout)
		defer t.Stop()
		expired = t.C
	}
	return sub.next(ctx, expired)
}

// Package memory provides an in-process broker.Broker. It retains a bounded
// history per topic for Last-Event-ID replay and is suitable for single-node
// deployments and tests.
package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/ggoodman/mcp-router-go/broker"
	"github.com/ggoodman/mcp-router-go/internal/jsonrpc"
)

const (
	defaultHistory = 256
	subscriberBuf  = 64
)

// Option configures a Broker.
type Option func(*Broker)

// WithHistory sets how many messages each topic retains for replay.
func WithHistory(n int) Option {
	return func(b *Broker) {
		if n >= 0 {
			b.history = n
		}
	}
}

// Broker implements broker.Broker with channels.
type Broker struct {
	mu      sync.Mutex
	topics  map[string]*topic
	history int
	seq     uint64
	closed  bool
}

type topic struct {
	messages []broker.Envelope
	subs     map[*subscription]struct{}
}

type subscription struct {
	b     *Broker
	topic *topic
	ch    chan broker.Envelope
	done  chan struct{}
	once  sync.Once
}

// New creates an empty broker.
func New(opts ...Option) *Broker {
	b := &Broker{topics: make(map[string]*topic), history: defaultHistory}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) topicLocked(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{subs: make(map[*subscription]struct{})}
		b.topics[name] = t
	}
	return t
}

// Publish implements broker.Broker.
func (b *Broker) Publish(ctx context.Context, name string, message jsonrpc.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", broker.ErrClosed
	}

	b.seq++
	env := broker.Envelope{
		ID:   strconv.FormatUint(b.seq, 10),
		Data: append([]byte(nil), message...),
	}

	t := b.topicLocked(name)
	if b.history > 0 {
		t.messages = append(t.messages, env)
		if over := len(t.messages) - b.history; over > 0 {
			t.messages = append(t.messages[:0:0], t.messages[over:]...)
		}
	}

	for sub := range t.subs {
		select {
		case sub.ch <- env:
		default:
			// Slow subscriber; it can reconnect with Last-Event-ID.
		}
	}
	return env.ID, nil
}

// Subscribe implements broker.Broker.
func (b *Broker) Subscribe(ctx context.Context, name string, lastEventID string) (broker.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, broker.ErrClosed
	}

	t := b.topicLocked(name)
	var replay []broker.Envelope
	if lastEventID != "" {
		for i, env := range t.messages {
			if env.ID == lastEventID {
				replay = t.messages[i+1:]
				break
			}
		}
	}

	sub := &subscription{
		b:     b,
		topic: t,
		ch:    make(chan broker.Envelope, subscriberBuf+len(replay)),
		done:  make(chan struct{}),
	}
	for _, env := range replay {
		sub.ch <- env
	}
	t.subs[sub] = struct{}{}
	return sub, nil
}

// Close implements broker.Broker.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, t := range b.topics {
		for sub := range t.subs {
			sub.once.Do(func() { close(sub.done) })
		}
		t.subs = nil
	}
	return nil
}

func (s *subscription) Next(ctx context.Context) (broker.Envelope, error) {
	// Drain buffered messages before reporting closure.
	select {
	case env := <-s.ch:
		return env, nil
	default:
	}
	select {
	case env := <-s.ch:
		return env, nil
	case <-s.done:
		return broker.Envelope{}, broker.ErrClosed
	case <-ctx.Done():
		return broker.Envelope{}, ctx.Err()
	}
}

func (s *subscription) Close() error {
	s.b.mu.Lock()
	delete(s.topic.subs, s)
	s.b.mu.Unlock()
	s.once.Do(func() { close(s.done) })
	return nil
}

var (
	_ broker.Broker = (*Broker)(nil)
	_ broker.Stream = (*subscription)(nil)
)

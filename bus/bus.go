package bus

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/domdrive/idgen"
)

// ErrBusClosed is returned by Publish before Start or after Stop. It marks
// a setup defect, not a transient page condition, and should fail fast.
var ErrBusClosed = errors.New("bus: closed")

// Handler receives messages for one topic subscription. Handlers run on the
// publisher's goroutine and must not publish back to the same topic.
type Handler func(*Message)

const defaultHistorySize = 256

// Bus routes messages between components. Construct one per session graph
// and inject it; there is deliberately no package-level singleton, so
// multiple independent automation sessions can coexist in one process.
type Bus struct {
	mu       sync.Mutex
	topics   map[string]*topic
	running  bool
	stopped  bool
	inflight sync.WaitGroup

	historySize int
	newID       idgen.Generator
	logger      *slog.Logger
}

type topic struct {
	mu   sync.Mutex
	subs []*subscription
	hist *ring
}

type subscription struct {
	h      Handler
	closed bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithHistorySize bounds the per-topic retained history. Default: 256.
func WithHistorySize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.historySize = n
		}
	}
}

// WithIDGenerator sets the generator for message IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(b *Bus) { b.newID = gen }
}

// New creates a Bus. Call Start before publishing.
func New(opts ...Option) *Bus {
	b := &Bus{
		topics:      make(map[string]*topic),
		historySize: defaultHistorySize,
		newID:       idgen.Prefixed("msg_", idgen.Default),
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Start begins accepting publishes. Idempotent until Stop.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.stopped {
		b.running = true
	}
}

// Stop drains in-flight deliveries and permanently rejects further
// publishes with ErrBusClosed.
func (b *Bus) Stop() {
	b.mu.Lock()
	b.running = false
	b.stopped = true
	b.mu.Unlock()

	// Every publisher that passed the running gate registered itself under
	// b.mu before releasing it; waiting here drains them through delivery.
	b.inflight.Wait()
}

// Publish delivers msg to every current subscriber of the topic before
// returning. Messages on one topic reach a given subscriber in publish
// order; no ordering holds across topics. The message's ID, Timestamp,
// and Meta.Version are filled in if unset.
func (b *Bus) Publish(topicName string, msg *Message) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.inflight.Add(1)
	t := b.topic(topicName)
	b.mu.Unlock()
	defer b.inflight.Done()

	if msg.ID == "" {
		msg.ID = b.newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Meta.Version == 0 {
		msg.Meta.Version = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.hist.push(msg)
	for _, s := range t.subs {
		if s.closed {
			continue
		}
		s.h(msg)
	}
	return nil
}

// Subscribe registers a handler for a topic and returns its unsubscribe
// function. Late subscribers do not receive earlier messages; use History
// for that.
func (b *Bus) Subscribe(topicName string, h Handler) func() {
	b.mu.Lock()
	t := b.topic(topicName)
	b.mu.Unlock()

	s := &subscription{h: h}
	t.mu.Lock()
	t.subs = append(t.subs, s)
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			s.closed = true
			for i, cur := range t.subs {
				if cur == s {
					t.subs = append(t.subs[:i], t.subs[i+1:]...)
					break
				}
			}
			t.mu.Unlock()
		})
	}
}

// History returns up to limit of the most recently retained messages on the
// topic, oldest first. limit <= 0 means all retained.
func (b *Bus) History(topicName string, limit int) []*Message {
	b.mu.Lock()
	t, ok := b.topics[topicName]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hist.tail(limit)
}

// topic returns or creates the named topic. Caller holds b.mu.
func (b *Bus) topic(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{hist: newRing(b.historySize)}
		b.topics[name] = t
	}
	return t
}

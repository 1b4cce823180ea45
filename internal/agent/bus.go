package agent

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Topics exchanged between agents
const (
	TopicDataCollected     = "data_collected"
	TopicAnalysisCompleted = "analysis_completed"
	TopicAlert             = "alert"
	TopicRegimeChange      = "regime_change"
	TopicAnomaly           = "anomaly_detected"
	TopicReportGenerated   = "report_generated"
	TopicAll               = "*"
)

// Message is one bus publication
type Message struct {
	Topic     string    `json:"topic"`
	From      string    `json:"from"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type subscription struct {
	topic string
	ch    chan Message
}

// Bus is an in-process pub/sub. Delivery never blocks the publisher: a
// subscriber whose buffer is full misses the message.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	dropped atomic.Int64
	logger  zerolog.Logger
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		subs:   map[*subscription]struct{}{},
		logger: log.With().Str("component", "bus").Logger(),
	}
}

// Subscribe returns a channel receiving messages on topic, or every topic for
// TopicAll, and a function that ends the subscription and closes the channel.
func (b *Bus) Subscribe(topic string, buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscription{topic: topic, ch: make(chan Message, buffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// On runs fn for every message on topic in its own goroutine until the returned function is called
func (b *Bus) On(topic string, fn func(Message)) func() {
	ch, unsubscribe := b.Subscribe(topic, 64)
	go func() {
		for msg := range ch {
			fn(msg)
		}
	}()
	return unsubscribe
}

// Publish delivers a message to matching subscribers and returns how many received it
func (b *Bus) Publish(topic, from string, payload any) int {
	msg := Message{Topic: topic, From: from, Payload: payload, Timestamp: time.Now().UTC()}
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for sub := range b.subs {
		if sub.topic != topic && sub.topic != TopicAll {
			continue
		}
		select {
		case sub.ch <- msg:
			delivered++
		default:
			b.dropped.Add(1)
			b.logger.Warn().Str("topic", topic).Str("from", from).Msg("Subscriber buffer full, message dropped")
		}
	}
	return delivered
}

// Dropped is the number of messages lost to full subscriber buffers
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

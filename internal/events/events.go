package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// HandlerFunc is the function called when an event is emitted.
type HandlerFunc func(context.Context, any) error

// SubjectOption configures a Subject
type SubjectOption func(*subjectConfig)

type subjectConfig struct {
	logger *slog.Logger
}

// WithLogger sets a structured logger for handler errors
func WithLogger(logger *slog.Logger) SubjectOption {
	return func(cfg *subjectConfig) {
		cfg.logger = logger
	}
}

// Emit runs every handler of topic inline and returns the first handler
// error. A handler's side effects are complete when Emit returns.
func Emit[T any](ctx context.Context, subject *Subject, topic string, value T) error {
	return subject.dispatch(ctx, event{topic: topic, message: value})
}

// Subscribe subscribes a typed handler to the given topic. Payloads of
// another type are reported as handler errors.
func Subscribe[T any](subject *Subject, topic string, handler func(context.Context, T) error) Subscription {
	wrapped := HandlerFunc(func(ctx context.Context, data any) error {
		if typed, ok := data.(T); ok {
			return handler(ctx, typed)
		}
		return fmt.Errorf("type assertion failed for %T, expected %T", data, *new(T))
	})

	subID := atomic.AddInt64(&subject.nextSubID, 1)
	sub := Subscription{
		Topic:   topic,
		Handler: wrapped,
		ID:      fmt.Sprintf("%s-%d", topic, subID),
	}
	subject.addSubscription(sub)
	sub.Unsubscribe = func() { subject.removeSubscription(sub.Topic, sub.ID) }
	return sub
}

type event struct {
	topic   string
	message any
}

// Subscription represents a handler subscribed to a specific topic.
type Subscription struct {
	Topic       string
	Handler     HandlerFunc
	ID          string
	Unsubscribe func()
}

type subscriberMap map[string]map[string]Subscription

// Subject is an in-process pub/sub hub. Subscribers are stored
// copy-on-write so emitters never take a lock.
type Subject struct {
	subscribers atomic.Pointer[subscriberMap]
	nextSubID   int64
	eventCount  int64
	config      subjectConfig
}

// NewSubject creates a new Subject with optional configuration.
func NewSubject(opts ...SubjectOption) *Subject {
	cfg := subjectConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Subject{config: cfg}
	empty := make(subscriberMap)
	s.subscribers.Store(&empty)
	return s
}

// Count returns how many events have been emitted.
func (s *Subject) Count() int64 { return atomic.LoadInt64(&s.eventCount) }

// dispatch delivers evt to every subscriber of its topic in turn.
func (s *Subject) dispatch(ctx context.Context, evt event) error {
	atomic.AddInt64(&s.eventCount, 1)
	var first error
	subs := s.subscribers.Load()
	for _, sub := range (*subs)[evt.topic] {
		if err := s.deliver(ctx, sub, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *Subject) deliver(ctx context.Context, sub Subscription, evt event) error {
	err := sub.Handler(ctx, evt.message)
	if err != nil && s.config.logger != nil {
		s.config.logger.Debug("event handler error",
			"topic", evt.topic,
			"error", err,
			"subscription_id", sub.ID)
	}
	return err
}

func (s *Subject) addSubscription(sub Subscription) {
	for {
		old := s.subscribers.Load()
		next := copySubscribers(*old)
		if _, ok := next[sub.Topic]; !ok {
			next[sub.Topic] = make(map[string]Subscription)
		}
		next[sub.Topic][sub.ID] = sub
		if s.subscribers.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (s *Subject) removeSubscription(topic, id string) {
	for {
		old := s.subscribers.Load()
		if _, ok := (*old)[topic][id]; !ok {
			return
		}
		next := copySubscribers(*old)
		delete(next[topic], id)
		if len(next[topic]) == 0 {
			delete(next, topic)
		}
		if s.subscribers.CompareAndSwap(old, &next) {
			return
		}
	}
}

func copySubscribers(original subscriberMap) subscriberMap {
	cp := make(subscriberMap, len(original))
	for topic, topicSubs := range original {
		cp[topic] = make(map[string]Subscription, len(topicSubs))
		for id, sub := range topicSubs {
			cp[topic][id] = sub
		}
	}
	return cp
}

package fabric

import (
	"context"
	"sync"
)

// Local is the in-process group table. It is the whole fabric in
// single-node deployments and the delivery end of the NATS bridge otherwise.
type Local struct {
	mu     sync.RWMutex
	groups map[string]map[string]Subscriber
}

func NewLocal() *Local {
	return &Local{groups: make(map[string]map[string]Subscriber)}
}

func (l *Local) Join(group string, sub Subscriber) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	mm := l.groups[group]
	if mm == nil {
		mm = make(map[string]Subscriber)
		l.groups[group] = mm
	}
	mm[sub.ID()] = sub
	return nil
}

func (l *Local) Leave(group string, sub Subscriber) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if mm := l.groups[group]; mm != nil {
		delete(mm, sub.ID())
		if len(mm) == 0 {
			delete(l.groups, group)
		}
	}
	return nil
}

// Publish delivers to every joined subscriber on the caller's goroutine, so
// a single publisher's events reach each subscriber in publish order.
func (l *Local) Publish(_ context.Context, group string, payload []byte) error {
	l.mu.RLock()
	subs := make([]Subscriber, 0, len(l.groups[group]))
	for _, s := range l.groups[group] {
		subs = append(subs, s)
	}
	l.mu.RUnlock()

	for _, s := range subs {
		s.Deliver(group, payload)
	}
	return nil
}

// Members reports the current subscriber count; the NATS bridge uses it to
// decide when to drop a subject subscription.
func (l *Local) Members(group string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.groups[group])
}

func (l *Local) Close() error { return nil }

package fabric

import (
	"context"
	"strings"
	"sync"
	"time"

	"consultchat/config"
	"consultchat/logger"
	"consultchat/tools/errs"

	"github.com/nats-io/nats.go"
)

const subjectPrefix = "fabric."

// group ids can contain characters NATS subjects reserve
var subjectEscaper = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

func subjectFor(group string) string { return subjectPrefix + subjectEscaper.Replace(group) }

// Bridge extends Local across processes: every publish goes out on a core
// NATS subject per group and comes back through the subscription into the
// local table, including on the publishing node. One subject subscription
// exists per locally-populated group.
type Bridge struct {
	local *Local
	nc    *nats.Conn

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

func NewBridge(cfg config.NatsConfig, local *Local) (*Bridge, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3 * time.Second),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errs.WrapMsg(err, "nats connect", "url", cfg.URL)
	}
	return &Bridge{local: local, nc: nc, subs: make(map[string]*nats.Subscription)}, nil
}

func (b *Bridge) Join(group string, sub Subscriber) error {
	if err := b.local.Join(group, sub); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[group]; ok {
		return nil
	}
	s, err := b.nc.Subscribe(subjectFor(group), func(m *nats.Msg) {
		_ = b.local.Publish(context.Background(), group, m.Data)
	})
	if err != nil {
		_ = b.local.Leave(group, sub)
		return errs.WrapMsg(err, "nats subscribe", "group", group)
	}
	b.subs[group] = s
	return nil
}

func (b *Bridge) Leave(group string, sub Subscriber) error {
	if err := b.local.Leave(group, sub); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.local.Members(group) == 0 {
		if s, ok := b.subs[group]; ok {
			if err := s.Unsubscribe(); err != nil {
				logger.Warnf("[fabric] unsubscribe group=%s err=%v", group, err)
			}
			delete(b.subs, group)
		}
	}
	return nil
}

func (b *Bridge) Publish(_ context.Context, group string, payload []byte) error {
	if err := b.nc.Publish(subjectFor(group), payload); err != nil {
		return errs.WrapMsg(err, "nats publish", "group", group)
	}
	return nil
}

func (b *Bridge) Close() error {
	b.mu.Lock()
	for g, s := range b.subs {
		_ = s.Drain()
		delete(b.subs, g)
	}
	b.mu.Unlock()
	return b.nc.Drain()
}

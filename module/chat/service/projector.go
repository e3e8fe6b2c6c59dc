package service

import (
	"context"
	"time"

	"consultchat/logger"
	"consultchat/module/chat/model"
	"consultchat/tools/errs"
)

// Projector fans a newly committed message out to every UserConversation row
// of its conversation: lastMessage snapshot everywhere, unreadCount +1 on
// every row but the sender's. The message log stays the source of truth; a
// failed projection never rolls the message back, it is retried.
//
// Retries are deduplicated by message id through MarkRepo: the increment runs
// only on the first claim, the snapshot overwrite is last-write-wins and
// re-applied on every attempt. The residual window is a MarkDone write
// failing after its increment succeeded; a retry inside that window can
// over-count by one. Accepted: the mark write is a single-document update and
// the alternative is a cross-document transaction.
type Projector struct {
	inbox InboxRepo
	marks MarkRepo

	attempts int
	backoff  time.Duration
}

func NewProjector(inbox InboxRepo, marks MarkRepo) *Projector {
	return &Projector{inbox: inbox, marks: marks, attempts: 3, backoff: 200 * time.Millisecond}
}

// Project applies the fan-out for msg, retrying transient store failures
// with backoff. Safe to call again for the same message.
func (p *Projector) Project(ctx context.Context, msg *model.Message) error {
	var err error
	for i := 0; i < p.attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return errs.Wrap(ctx.Err())
			case <-time.After(p.backoff << uint(i-1)):
			}
		}
		if err = p.projectOnce(ctx, msg); err == nil {
			return nil
		}
		if !errs.IsTransient(err) {
			return err
		}
		logger.Warnf("[projector] retrying msg=%s attempt=%d err=%v", msg.ID.Hex(), i+1, err)
	}
	return err
}

func (p *Projector) projectOnce(ctx context.Context, msg *model.Message) error {
	convID := msg.ConversationID
	msgID := msg.ID.Hex()
	now := time.Now().UTC()

	done, err := p.marks.Begin(ctx, msgID, convID)
	if err != nil {
		return err
	}

	if !done {
		if err := p.inbox.IncrementUnreadExcept(ctx, convID, msg.SenderID, now); err != nil {
			return err
		}
		if err := p.marks.MarkDone(ctx, msgID); err != nil {
			return err
		}
	}

	// last-write-wins, applied on every attempt
	return p.inbox.SetLastMessageAll(ctx, convID, msg.Snapshot(), now)
}

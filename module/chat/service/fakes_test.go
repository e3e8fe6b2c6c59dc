package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"consultchat/module/chat/model"
	"consultchat/tools/errs"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// In-memory repo fakes. They mirror the mongo stores' observable behavior
// closely enough for the orchestration tests; concurrency is handled with a
// single mutex per fake.

type memDirectory struct {
	mu    sync.Mutex
	users map[string]model.User
}

func newMemDirectory(users ...model.User) *memDirectory {
	d := &memDirectory{users: map[string]model.User{}}
	for _, u := range users {
		d.users[u.UserID] = u
	}
	return d
}

func (d *memDirectory) Get(_ context.Context, userID string) (*model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("user not found", "user", userID)
	}
	return &u, nil
}

func (d *memDirectory) GetMany(_ context.Context, userIDs []string) ([]model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := map[string]bool{}
	var out []model.User
	for _, id := range userIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if u, ok := d.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

type memConvs struct {
	mu    sync.Mutex
	convs map[string]*model.Conversation
}

func newMemConvs() *memConvs { return &memConvs{convs: map[string]*model.Conversation{}} }

func copyConv(c *model.Conversation) *model.Conversation {
	cp := *c
	cp.Participants = append([]model.Participant(nil), c.Participants...)
	cp.DirectMessageParticipants = append([]string(nil), c.DirectMessageParticipants...)
	return &cp
}

func (r *memConvs) FindDirectByPair(_ context.Context, userA, userB string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.convs {
		if c.Type != model.ConversationTypeDirect {
			continue
		}
		p := c.DirectMessageParticipants
		if len(p) == 2 && ((p[0] == userA && p[1] == userB) || (p[0] == userB && p[1] == userA)) {
			return copyConv(c), nil
		}
	}
	return nil, nil
}

func (r *memConvs) FindByID(_ context.Context, id string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("conversation not found", "conv", id)
	}
	return copyConv(c), nil
}

func (r *memConvs) FindUnitGroup(_ context.Context, unitID string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.convs {
		if c.Type == model.ConversationTypeGroup && c.UnitID == unitID {
			return copyConv(c), nil
		}
	}
	return nil, errs.ErrNotFound.WrapMsg("unit group not found", "unit", unitID)
}

func (r *memConvs) Insert(_ context.Context, conv *model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conv.ID.IsZero() {
		conv.ID = primitive.NewObjectID()
	}
	r.convs[conv.ID.Hex()] = copyConv(conv)
	return nil
}

func (r *memConvs) AddParticipant(_ context.Context, convID primitive.ObjectID, p model.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[convID.Hex()]
	if !ok {
		return errs.ErrNotFound.WithDetail("conversation not found")
	}
	c.Participants = append(c.Participants, p)
	return nil
}

func (r *memConvs) RemoveParticipant(_ context.Context, convID primitive.ObjectID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[convID.Hex()]
	if !ok {
		return false, errs.ErrNotFound.WithDetail("conversation not found")
	}
	for i, p := range c.Participants {
		if p.UserID == userID {
			c.Participants = append(c.Participants[:i], c.Participants[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *memConvs) SetParticipantLastRead(_ context.Context, convID primitive.ObjectID, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[convID.Hex()]
	if !ok {
		return errs.ErrNotFound.WithDetail("conversation not found")
	}
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			prev := c.Participants[i].LastReadAt
			if prev == nil || prev.Before(at) {
				t := at
				c.Participants[i].LastReadAt = &t
			}
		}
	}
	return nil
}

type memMsgs struct {
	mu   sync.Mutex
	msgs []*model.Message
}

func newMemMsgs() *memMsgs { return &memMsgs{} }

func (r *memMsgs) Insert(_ context.Context, msg *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	cp := *msg
	r.msgs = append(r.msgs, &cp)
	return nil
}

func (r *memMsgs) FindByID(_ context.Context, id string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.ID.Hex() == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound.WrapMsg("message not found", "msg", id)
}

func (r *memMsgs) History(_ context.Context, conversationID string, limit, offset int) ([]model.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []model.Message
	for _, m := range r.msgs {
		if m.ConversationID == conversationID {
			all = append(all, *m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if offset >= len(all) {
		return nil, false, nil
	}
	all = all[offset:]
	hasMore := len(all) > limit
	if hasMore {
		all = all[:limit]
	}
	return all, hasMore, nil
}

func (r *memMsgs) AppendReadReceipts(_ context.Context, conversationID, userID string, upTo time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.msgs {
		if m.ConversationID != conversationID || m.SenderID == userID || m.Timestamp.After(upTo) {
			continue
		}
		already := false
		for _, rr := range m.ReadBy {
			if rr.UserID == userID {
				already = true
				break
			}
		}
		if !already {
			m.ReadBy = append(m.ReadBy, model.ReadReceipt{UserID: userID, ReadAt: upTo})
			n++
		}
	}
	return n, nil
}

func (r *memMsgs) Edit(_ context.Context, id, senderID, content string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.ID.Hex() == id && m.SenderID == senderID && !m.IsDeleted {
			now := time.Now().UTC()
			m.Content = content
			m.IsEdited = true
			m.EditedAt = &now
			cp := *m
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound.WrapMsg("message not found", "msg", id)
}

func (r *memMsgs) SoftDelete(_ context.Context, id, senderID string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.ID.Hex() == id && m.SenderID == senderID {
			now := time.Now().UTC()
			m.Content = ""
			m.Media = nil
			m.Type = model.MessageTypeDeleted
			m.IsDeleted = true
			m.DeletedAt = &now
			cp := *m
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound.WrapMsg("message not found", "msg", id)
}

type memInbox struct {
	mu   sync.Mutex
	rows map[string]*model.UserConversation

	incrementFail int // remaining IncrementUnreadExcept calls to fail
	setLastFail   int
}

func newMemInbox() *memInbox { return &memInbox{rows: map[string]*model.UserConversation{}} }

func (r *memInbox) InsertMany(_ context.Context, rows []*model.UserConversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		cp := *row
		r.rows[row.ID] = &cp
	}
	return nil
}

func (r *memInbox) Delete(_ context.Context, userID, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, userID+":"+conversationID)
	return nil
}

func (r *memInbox) RowFor(_ context.Context, userID, conversationID string) (*model.UserConversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[userID+":"+conversationID]
	if !ok {
		return nil, errs.ErrNotFound.WithDetail("row not found")
	}
	cp := *row
	return &cp, nil
}

func (r *memInbox) ListForUser(_ context.Context, userID string, includeArchived bool) ([]model.UserConversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.UserConversation
	for _, row := range r.rows {
		if row.UserID != userID {
			continue
		}
		if row.IsArchived && !includeArchived {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *memInbox) SetLastMessageAll(_ context.Context, conversationID string, snap model.LastMessageInfo, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setLastFail > 0 {
		r.setLastFail--
		return errs.ErrTransientStore.WithDetail("injected")
	}
	for _, row := range r.rows {
		if row.ConversationID == conversationID {
			s := snap
			row.LastMessage = &s
			row.UpdatedAt = at
		}
	}
	return nil
}

func (r *memInbox) IncrementUnreadExcept(_ context.Context, conversationID, senderID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.incrementFail > 0 {
		r.incrementFail--
		return errs.ErrTransientStore.WithDetail("injected")
	}
	for _, row := range r.rows {
		if row.ConversationID == conversationID && row.UserID != senderID {
			row.UnreadCount++
			row.UpdatedAt = at
		}
	}
	return nil
}

func (r *memInbox) MarkRead(_ context.Context, userID, conversationID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[userID+":"+conversationID]
	if !ok {
		return nil
	}
	row.UnreadCount = 0
	if row.LastReadAt == nil || row.LastReadAt.Before(at) {
		t := at
		row.LastReadAt = &t
	}
	row.UpdatedAt = at
	return nil
}

func (r *memInbox) SumUnread(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, row := range r.rows {
		if row.UserID == userID {
			total += row.UnreadCount
		}
	}
	return total, nil
}

func (r *memInbox) SetDraft(_ context.Context, userID, conversationID string, draft *model.DraftInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[userID+":"+conversationID]; ok {
		row.Draft = draft
	}
	return nil
}

func (r *memInbox) SetFlags(_ context.Context, userID, conversationID string, pinned, muted, archived *bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[userID+":"+conversationID]
	if !ok {
		return nil
	}
	if pinned != nil {
		row.IsPinned = *pinned
	}
	if muted != nil {
		row.IsMuted = *muted
	}
	if archived != nil {
		row.IsArchived = *archived
	}
	return nil
}

func (r *memInbox) UpdateGroupInfoAll(_ context.Context, conversationID string, memberCount int, adminIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ConversationID == conversationID && row.GroupChat != nil {
			row.GroupChat.MemberCount = memberCount
			row.GroupChat.AdminIDs = append([]string(nil), adminIDs...)
		}
	}
	return nil
}

type memMarks struct {
	mu     sync.Mutex
	states map[string]string

	markDoneFail int
}

func newMemMarks() *memMarks { return &memMarks{states: map[string]string{}} }

func (r *memMarks) Begin(_ context.Context, messageID, _ string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[messageID]
	if !ok {
		r.states[messageID] = model.ProjectionStatePending
		return false, nil
	}
	return state == model.ProjectionStateDone, nil
}

func (r *memMarks) MarkDone(_ context.Context, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markDoneFail > 0 {
		r.markDoneFail--
		return errs.ErrTransientStore.WithDetail("injected")
	}
	r.states[messageID] = model.ProjectionStateDone
	return nil
}

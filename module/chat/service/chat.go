package service

import (
	"context"
	"sort"
	"time"

	"consultchat/logger"
	"consultchat/module/chat/model"
	"consultchat/tools/errs"
	"consultchat/tools/safe"
)

const (
	backlogSize       = 50
	defaultPageSize   = 50
	maxPageSize       = 100
	defaultMaxMembers = 200
)

// ChatService owns conversation lifecycle, the message log, and read state.
// It talks to mongo through the repo interfaces only; transport (websocket,
// REST) and push sit on top of it.
type ChatService struct {
	convs     ConversationRepo
	msgs      MessageRepo
	inbox     InboxRepo
	users     DirectoryRepo
	projector *Projector
}

func NewChatService(convs ConversationRepo, msgs MessageRepo, inbox InboxRepo, users DirectoryRepo, projector *Projector) *ChatService {
	return &ChatService{convs: convs, msgs: msgs, inbox: inbox, users: users, projector: projector}
}

func inboxRowID(userID, conversationID string) string {
	return userID + ":" + conversationID
}

func directInfo(other *model.User) *model.DirectMessageInfo {
	return &model.DirectMessageInfo{
		OtherParticipantID:     other.UserID,
		OtherParticipantName:   other.DisplayName,
		OtherParticipantAvatar: other.ProfilePicture,
		OtherParticipantStatus: other.Status,
	}
}

// CreateDirect returns the unique direct conversation for the unordered pair
// (creatorID, otherID), creating it when absent. created reports whether this
// call made it.
func (s *ChatService) CreateDirect(ctx context.Context, creatorID, otherID string) (*model.Conversation, bool, error) {
	if creatorID == otherID {
		return nil, false, errs.ErrValidationFailed.WithDetail("cannot open a direct conversation with yourself")
	}

	creator, err := s.users.Get(ctx, creatorID)
	if err != nil {
		return nil, false, err
	}
	other, err := s.users.Get(ctx, otherID)
	if err != nil {
		return nil, false, err
	}

	if existing, err := s.convs.FindDirectByPair(ctx, creatorID, otherID); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		Type: model.ConversationTypeDirect,
		Participants: []model.Participant{
			{UserID: creatorID, Name: creator.DisplayName, Role: model.RoleMember, JoinedAt: now},
			{UserID: otherID, Name: other.DisplayName, Role: model.RoleMember, JoinedAt: now},
		},
		IsActive:                  true,
		CreatedBy:                 creatorID,
		OrganizationID:            creator.OrganizationID,
		LocationID:                creator.LocationID,
		CreatedAt:                 now,
		UpdatedAt:                 now,
		DirectMessageParticipants: []string{creatorID, otherID},
	}
	if err := s.convs.Insert(ctx, conv); err != nil {
		// a concurrent creator may have won the unique index race
		if existing, ferr := s.convs.FindDirectByPair(ctx, creatorID, otherID); ferr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, err
	}

	convID := conv.ID.Hex()
	rows := []*model.UserConversation{
		{
			ID:               inboxRowID(creatorID, convID),
			UserID:           creatorID,
			ConversationID:   convID,
			ConversationType: model.ConversationTypeDirect,
			DirectMessage:    directInfo(other),
			OrganizationID:   conv.OrganizationID,
			LocationID:       conv.LocationID,
			UpdatedAt:        now,
		},
		{
			ID:               inboxRowID(otherID, convID),
			UserID:           otherID,
			ConversationID:   convID,
			ConversationType: model.ConversationTypeDirect,
			DirectMessage:    directInfo(creator),
			OrganizationID:   conv.OrganizationID,
			LocationID:       conv.LocationID,
			UpdatedAt:        now,
		},
	}
	if err := s.inbox.InsertMany(ctx, rows); err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// CreateGroup creates a group conversation. The creator is always a
// participant with the owner role, whether or not memberIDs lists them.
func (s *ChatService) CreateGroup(ctx context.Context, creatorID, name, description string, memberIDs []string, orgID, locID, unitID string) (*model.Conversation, error) {
	if name == "" {
		return nil, errs.ErrValidationFailed.WithDetail("group name is required")
	}
	if unitID != "" {
		if existing, err := s.convs.FindUnitGroup(ctx, unitID); err == nil {
			return existing, nil
		} else if !errs.IsNotFound(err) {
			return nil, err
		}
	}

	ids := append([]string{creatorID}, memberIDs...)
	found, err := s.users.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.User, len(found))
	for i := range found {
		byID[found[i].UserID] = &found[i]
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, errs.ErrValidationFailed.WrapMsg("unknown member", "user", id)
		}
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		Type:        model.ConversationTypeGroup,
		Name:        name,
		Description: description,
		GroupSettings: &model.GroupSettings{
			IsPublic:          false,
			AllowMemberInvite: true,
			MaxMembers:        defaultMaxMembers,
		},
		IsActive:       true,
		CreatedBy:      creatorID,
		OrganizationID: orgID,
		LocationID:     locID,
		UnitID:         unitID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		role := model.RoleMember
		if id == creatorID {
			role = model.RoleOwner
		}
		conv.Participants = append(conv.Participants, model.Participant{
			UserID: id, Name: byID[id].DisplayName, Role: role, JoinedAt: now,
		})
	}
	if err := s.convs.Insert(ctx, conv); err != nil {
		return nil, err
	}

	convID := conv.ID.Hex()
	admins := conv.AdminIDs()
	rows := make([]*model.UserConversation, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		rows = append(rows, &model.UserConversation{
			ID:               inboxRowID(p.UserID, convID),
			UserID:           p.UserID,
			ConversationID:   convID,
			ConversationType: model.ConversationTypeGroup,
			GroupChat: &model.GroupChatInfo{
				Name:        name,
				Description: description,
				MemberCount: len(conv.Participants),
				AdminIDs:    admins,
				MyRole:      p.Role,
			},
			OrganizationID: orgID,
			LocationID:     locID,
			UnitID:         unitID,
			UpdatedAt:      now,
		})
	}
	if err := s.inbox.InsertMany(ctx, rows); err != nil {
		return nil, err
	}
	return conv, nil
}

// AddUnitMember joins userID to the unit's group chat. Already a member is a
// no-op, not an error.
func (s *ChatService) AddUnitMember(ctx context.Context, unitID, userID string) error {
	conv, err := s.convs.FindUnitGroup(ctx, unitID)
	if err != nil {
		return err
	}
	if conv.HasParticipant(userID) {
		return nil
	}
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	p := model.Participant{UserID: userID, Name: u.DisplayName, Role: model.RoleMember, JoinedAt: now}
	if err := s.convs.AddParticipant(ctx, conv.ID, p); err != nil {
		return err
	}
	conv.Participants = append(conv.Participants, p)

	convID := conv.ID.Hex()
	row := &model.UserConversation{
		ID:               inboxRowID(userID, convID),
		UserID:           userID,
		ConversationID:   convID,
		ConversationType: model.ConversationTypeGroup,
		GroupChat: &model.GroupChatInfo{
			Name:        conv.Name,
			Description: conv.Description,
			MemberCount: len(conv.Participants),
			AdminIDs:    conv.AdminIDs(),
			MyRole:      model.RoleMember,
		},
		OrganizationID: conv.OrganizationID,
		LocationID:     conv.LocationID,
		UnitID:         conv.UnitID,
		UpdatedAt:      now,
	}
	if err := s.inbox.InsertMany(ctx, []*model.UserConversation{row}); err != nil {
		return err
	}
	return s.inbox.UpdateGroupInfoAll(ctx, convID, len(conv.Participants), conv.AdminIDs())
}

// RemoveUnitMember is the inverse; absent member is a no-op.
func (s *ChatService) RemoveUnitMember(ctx context.Context, unitID, userID string) error {
	conv, err := s.convs.FindUnitGroup(ctx, unitID)
	if err != nil {
		return err
	}
	removed, err := s.convs.RemoveParticipant(ctx, conv.ID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	remaining := conv.Participants[:0]
	for _, p := range conv.Participants {
		if p.UserID != userID {
			remaining = append(remaining, p)
		}
	}
	conv.Participants = remaining

	convID := conv.ID.Hex()
	if err := s.inbox.Delete(ctx, userID, convID); err != nil {
		return err
	}
	return s.inbox.UpdateGroupInfoAll(ctx, convID, len(conv.Participants), conv.AdminIDs())
}

// AppendInput carries a new message. Timestamp defaults to now.
type AppendInput struct {
	ConversationID string
	SenderID       string
	Content        string
	Type           string
	Media          *model.Media
	ReplyTo        string
}

// AppendMessage commits a message to the log and projects it into every
// participant's inbox row. The append itself never fails on projection
// trouble: a transient projection error is retried in the background and the
// committed message is returned.
func (s *ChatService) AppendMessage(ctx context.Context, in AppendInput) (*model.Message, error) {
	conv, err := s.convs.FindByID(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(in.SenderID) {
		return nil, errs.ErrPermissionDenied.WrapMsg("sender is not a participant", "user", in.SenderID, "conv", in.ConversationID)
	}

	msgType := in.Type
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	switch msgType {
	case model.MessageTypeText, model.MessageTypeSystem:
		if in.Content == "" {
			return nil, errs.ErrValidationFailed.WithDetail("empty message content")
		}
	case model.MessageTypeImage, model.MessageTypeFile:
		if in.Media == nil {
			return nil, errs.ErrValidationFailed.WithDetail("media message without media")
		}
	default:
		return nil, errs.ErrValidationFailed.WrapMsg("unknown message type", "type", msgType)
	}

	if in.ReplyTo != "" {
		parent, err := s.msgs.FindByID(ctx, in.ReplyTo)
		if err != nil {
			return nil, err
		}
		if parent.ConversationID != in.ConversationID {
			return nil, errs.ErrNotFound.WrapMsg("replied message is in another conversation", "replyTo", in.ReplyTo)
		}
	}

	senderName := ""
	if u, err := s.users.Get(ctx, in.SenderID); err == nil {
		senderName = u.DisplayName
	} else if !errs.IsNotFound(err) {
		return nil, err
	}

	msg := &model.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		SenderName:     senderName,
		Content:        in.Content,
		Type:           msgType,
		Timestamp:      time.Now().UTC(),
		Media:          in.Media,
		ReplyTo:        in.ReplyTo,
		OrganizationID: conv.OrganizationID,
		LocationID:     conv.LocationID,
	}
	if err := s.msgs.Insert(ctx, msg); err != nil {
		return nil, err
	}

	// the message is committed at this point; projection failures of any
	// class (including a dead caller context) are retried in the background
	// on a fresh context and never surfaced to the sender
	if err := s.projector.Project(ctx, msg); err != nil {
		logger.Warnf("[chat] projection deferred msg=%s err=%v", msg.ID.Hex(), err)
		safe.Go(func() {
			bg, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.projector.Project(bg, msg); err != nil {
				logger.Errorf("[chat] background projection failed msg=%s err=%v", msg.ID.Hex(), err)
			}
		})
	}
	return msg, nil
}

// MarkRead records that userID has seen the conversation up to now: inbox
// unread zeroed, the participant's lastReadAt advanced, and read receipts
// appended to messages from others. Returns the receipt count and timestamp.
func (s *ChatService) MarkRead(ctx context.Context, userID, conversationID string) (int64, time.Time, error) {
	conv, err := s.convs.FindByID(ctx, conversationID)
	if err != nil {
		return 0, time.Time{}, err
	}
	if !conv.HasParticipant(userID) {
		return 0, time.Time{}, errs.ErrPermissionDenied.WrapMsg("not a participant", "user", userID, "conv", conversationID)
	}

	now := time.Now().UTC()
	if err := s.inbox.MarkRead(ctx, userID, conversationID, now); err != nil {
		return 0, time.Time{}, err
	}
	if err := s.convs.SetParticipantLastRead(ctx, conv.ID, userID, now); err != nil {
		return 0, time.Time{}, err
	}
	n, err := s.msgs.AppendReadReceipts(ctx, conversationID, userID, now)
	if err != nil {
		return 0, time.Time{}, err
	}
	return n, now, nil
}

// CreateSystemMessage posts a system-typed message into the direct
// conversation between the two users, opening it first when needed. Referral
// status transitions use this.
func (s *ChatService) CreateSystemMessage(ctx context.Context, actorID, otherID, content string) (*model.Message, error) {
	conv, _, err := s.CreateDirect(ctx, actorID, otherID)
	if err != nil {
		return nil, err
	}
	return s.AppendMessage(ctx, AppendInput{
		ConversationID: conv.ID.Hex(),
		SenderID:       actorID,
		Content:        content,
		Type:           model.MessageTypeSystem,
	})
}

// EditMessage rewrites the sender's own message. When the edited message is
// the conversation's newest, the inbox snapshot is refreshed too.
func (s *ChatService) EditMessage(ctx context.Context, messageID, senderID, content string) (*model.Message, error) {
	if content == "" {
		return nil, errs.ErrValidationFailed.WithDetail("empty message content")
	}
	msg, err := s.msgs.Edit(ctx, messageID, senderID, content)
	if err != nil {
		return nil, err
	}
	s.refreshSnapshotIfLatest(ctx, msg)
	return msg, nil
}

// DeleteMessage soft-deletes the sender's own message.
func (s *ChatService) DeleteMessage(ctx context.Context, messageID, senderID string) (*model.Message, error) {
	msg, err := s.msgs.SoftDelete(ctx, messageID, senderID)
	if err != nil {
		return nil, err
	}
	s.refreshSnapshotIfLatest(ctx, msg)
	return msg, nil
}

func (s *ChatService) refreshSnapshotIfLatest(ctx context.Context, msg *model.Message) {
	top, _, err := s.msgs.History(ctx, msg.ConversationID, 1, 0)
	if err != nil || len(top) == 0 || top[0].ID != msg.ID {
		return
	}
	if err := s.inbox.SetLastMessageAll(ctx, msg.ConversationID, msg.Snapshot(), time.Now().UTC()); err != nil {
		logger.Warnf("[chat] snapshot refresh failed conv=%s err=%v", msg.ConversationID, err)
	}
}

// Backlog returns the newest messages of the conversation in chronological
// order, for the initial websocket push. hasMore reports older history beyond
// the window.
func (s *ChatService) Backlog(ctx context.Context, userID, conversationID string) ([]model.Message, bool, error) {
	msgs, hasMore, err := s.History(ctx, userID, conversationID, backlogSize, 0)
	if err != nil {
		return nil, false, err
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	return msgs, hasMore, nil
}

// History pages the message log newest-first. limit is clamped to [1,100].
func (s *ChatService) History(ctx context.Context, userID, conversationID string, limit, offset int) ([]model.Message, bool, error) {
	conv, err := s.convs.FindByID(ctx, conversationID)
	if err != nil {
		return nil, false, err
	}
	if !conv.HasParticipant(userID) {
		return nil, false, errs.ErrPermissionDenied.WrapMsg("not a participant", "user", userID, "conv", conversationID)
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.msgs.History(ctx, conversationID, limit, offset)
}

// Conversation fetches a conversation the user belongs to.
func (s *ChatService) Conversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, err := s.convs.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, errs.ErrPermissionDenied.WrapMsg("not a participant", "user", userID, "conv", conversationID)
	}
	return conv, nil
}

// Inbox lists the user's projection rows newest-activity-first.
func (s *ChatService) Inbox(ctx context.Context, userID string, includeArchived bool) ([]model.UserConversation, error) {
	return s.inbox.ListForUser(ctx, userID, includeArchived)
}

// UnreadTotal sums unread counts across the user's inbox.
func (s *ChatService) UnreadTotal(ctx context.Context, userID string) (int, error) {
	return s.inbox.SumUnread(ctx, userID)
}

// SaveDraft stores (or clears, with empty content) the user's draft.
func (s *ChatService) SaveDraft(ctx context.Context, userID, conversationID, content string) error {
	if _, err := s.inbox.RowFor(ctx, userID, conversationID); err != nil {
		return err
	}
	var draft *model.DraftInfo
	if content != "" {
		draft = &model.DraftInfo{Content: content, Timestamp: time.Now().UTC()}
	}
	return s.inbox.SetDraft(ctx, userID, conversationID, draft)
}

// SetFlags updates pin/mute/archive on the user's row; nil leaves untouched.
func (s *ChatService) SetFlags(ctx context.Context, userID, conversationID string, pinned, muted, archived *bool) error {
	if _, err := s.inbox.RowFor(ctx, userID, conversationID); err != nil {
		return err
	}
	return s.inbox.SetFlags(ctx, userID, conversationID, pinned, muted, archived)
}

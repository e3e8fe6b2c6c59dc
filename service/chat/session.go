package chat

import (
	"context"
	"sync"
	"time"

	"consultchat/logger"
	"consultchat/module/chat/model"
	"consultchat/module/chat/service"
	"consultchat/module/notify"
	"consultchat/service/fabric"
	"consultchat/tools/errs"
	"consultchat/tools/ids"
	"consultchat/tools/safe"

	"github.com/gorilla/websocket"
)

const (
	sendQueueSize = 64
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 54 * time.Second
	maxFrameSize  = 64 << 10
	opTimeout     = 15 * time.Second
)

// chatAPI is the slice of the chat service a session drives.
type chatAPI interface {
	Conversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error)
	AppendMessage(ctx context.Context, in service.AppendInput) (*model.Message, error)
	MarkRead(ctx context.Context, userID, conversationID string) (int64, time.Time, error)
	Backlog(ctx context.Context, userID, conversationID string) ([]model.Message, bool, error)
	UnreadTotal(ctx context.Context, userID string) (int, error)
}

type notifier interface {
	Notify(ctx context.Context, userID string, n notify.Notification) (notify.Result, error)
}

type sessionKind int

const (
	kindChat sessionKind = iota
	kindNotify
)

// Session is one live websocket connection. States run
// connecting -> authenticated -> joined -> closed; by the time a Session
// exists the identity is already verified, so its lifecycle here is
// join (subscribe + backlog), the read loop, then best-effort teardown.
type Session struct {
	id       string
	userID   string
	username string
	kind     sessionKind

	// chat sessions only
	conv        *model.Conversation
	counterpart string

	conn *websocket.Conn
	g    *Gateway

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	groups map[string]bool
}

func newSession(g *Gateway, conn *websocket.Conn, userID, username string, kind sessionKind) *Session {
	return &Session{
		id:       ids.GenerateString(),
		userID:   userID,
		username: username,
		kind:     kind,
		conn:     conn,
		g:        g,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
		groups:   map[string]bool{},
	}
}

func (s *Session) ID() string { return s.id }

// Deliver enqueues a fabric event onto the connection's send queue. A full
// queue means the client cannot keep up; the session is closed and the
// forced reconnect replays missed state through the backlog.
func (s *Session) Deliver(_ string, payload []byte) {
	s.enqueue(payload)
}

func (s *Session) enqueue(payload []byte) {
	if payload == nil {
		return
	}
	select {
	case s.send <- payload:
	case <-s.done:
	default:
		logger.Warnf("[ws] send queue full, closing session=%s user=%s", s.id, s.userID)
		s.Close()
	}
}

// Close tears the session down from outside the read loop.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

func (s *Session) join(group string) error {
	if err := s.g.fab.Join(group, s); err != nil {
		return err
	}
	s.mu.Lock()
	s.groups[group] = true
	s.mu.Unlock()
	return nil
}

// run blocks until the connection dies, then tears down.
func (s *Session) run() {
	safe.Go(s.writePump)
	s.readLoop()
	s.teardown()
}

func (s *Session) readLoop() {
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("[ws] read session=%s user=%s err=%v", s.id, s.userID, err)
			}
			return
		}
		// application-level frames extend liveness like protocol pongs do
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handle(raw)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// teardown is best-effort: every step is attempted even when earlier ones
// fail, and unsubscription always happens.
func (s *Session) teardown() {
	s.mu.Lock()
	groups := make([]string, 0, len(s.groups))
	for g := range s.groups {
		groups = append(groups, g)
	}
	s.groups = map[string]bool{}
	s.mu.Unlock()

	for _, g := range groups {
		if err := s.g.fab.Leave(g, s); err != nil {
			logger.Errorf("[ws] leave group=%s session=%s err=%v", g, s.id, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	s.g.registry.Disconnect(ctx, s)
	s.Close()
}

func (s *Session) handle(raw []byte) {
	typ, m, err := DecodeInbound(raw)
	if err != nil {
		s.enqueue(ErrorFrame(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch typ {
	case EvChatMessage:
		err = s.onChatMessage(ctx, m)
	case EvTyping:
		err = s.onTyping(ctx, m)
	case EvReadMessages:
		err = s.onReadMessages(ctx, m)
	case EvPing, EvHeartbeat:
		err = s.onHeartbeat(ctx)
	case EvPresenceUpdates:
		err = s.onPresenceUpdate(ctx, m)
	default:
		err = errs.ErrValidationFailed.WrapMsg("unknown event type", "type", typ)
	}
	if err != nil {
		logger.Warnf("[ws] event=%s session=%s user=%s err=%v", typ, s.id, s.userID, err)
		s.enqueue(ErrorFrame(err))
	}
}

func (s *Session) onChatMessage(ctx context.Context, m map[string]any) error {
	if s.kind != kindChat {
		return errs.ErrValidationFailed.WithDetail("chat_message on a notification session")
	}
	in, err := decodeAs[ChatMessageIn](m)
	if err != nil {
		return err
	}
	convID := s.conv.ID.Hex()
	if in.ConversationID != "" && in.ConversationID != convID {
		return errs.ErrValidationFailed.WithDetail("conversation mismatch")
	}

	ai := service.AppendInput{
		ConversationID: convID,
		SenderID:       s.userID,
		Content:        in.Content,
		Type:           in.MessageType,
		ReplyTo:        in.ReplyTo,
	}
	if in.Media != nil && in.Media.URL != "" {
		ai.Media = &model.Media{
			URL:      in.Media.URL,
			Filename: in.Media.Filename,
			Size:     in.Media.Size,
			MimeType: in.Media.MimeType,
		}
	}
	msg, err := s.g.svc.AppendMessage(ctx, ai)
	if err != nil {
		return err
	}

	// the append and projection are done; only now is the send broadcast
	if err := s.g.fab.Publish(ctx, convID, EchoFrame(msg)); err != nil {
		logger.Errorf("[ws] echo publish conv=%s err=%v", convID, err)
	}

	if s.conv.Type == model.ConversationTypeDirect {
		// sending implies having read everything before it
		if _, _, err := s.g.svc.MarkRead(ctx, s.userID, convID); err != nil {
			logger.Warnf("[ws] sender read update user=%s conv=%s err=%v", s.userID, convID, err)
		}
	}

	s.fanOutNotifications(msg)
	return nil
}

// fanOutNotifications pushes the new-message event and refreshed unread
// counts to every recipient's user group, and dispatches a device push to a
// direct counterpart who is not currently online. Runs detached: the message
// is already committed, a dead session must not cancel recipient-side work.
func (s *Session) fanOutNotifications(msg *model.Message) {
	conv := s.conv
	g := s.g
	senderID := s.userID
	safe.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		for _, p := range conv.Participants {
			if p.UserID == senderID {
				continue
			}
			userGroup := fabric.UserGroup(p.UserID)
			if err := g.fab.Publish(ctx, userGroup, NewMessageFrame(msg)); err != nil {
				logger.Errorf("[ws] notify publish user=%s err=%v", p.UserID, err)
			}
			if total, err := g.svc.UnreadTotal(ctx, p.UserID); err == nil {
				if err := g.fab.Publish(ctx, userGroup, UnreadCountFrame(total)); err != nil {
					logger.Errorf("[ws] unread publish user=%s err=%v", p.UserID, err)
				}
			}
		}

		if conv.Type != model.ConversationTypeDirect || g.dispatcher == nil {
			return
		}
		other, ok := conv.Counterpart(senderID)
		if !ok {
			return
		}
		online, err := g.presence.IsOnline(ctx, other)
		if err != nil {
			logger.Warnf("[ws] presence check user=%s err=%v", other, err)
		}
		if online {
			return
		}
		title := msg.SenderName
		if title == "" {
			title = "New message"
		}
		body := msg.Content
		if msg.Media != nil {
			body = "Sent an attachment"
		}
		res, err := g.dispatcher.Notify(ctx, other, notify.Notification{
			Title: title,
			Body:  body,
			Data: map[string]string{
				"conversationId": msg.ConversationID,
				"messageId":      msg.ID.Hex(),
				"senderId":       msg.SenderID,
			},
		})
		if err != nil {
			logger.Errorf("[ws] push dispatch user=%s err=%v", other, err)
			return
		}
		logger.Debugf("[ws] push dispatched user=%s sent=%d failed=%d", other, res.Sent, res.Failed)
	})
}

func (s *Session) onTyping(ctx context.Context, m map[string]any) error {
	if s.kind != kindChat {
		return errs.ErrValidationFailed.WithDetail("typing on a notification session")
	}
	in, err := decodeAs[TypingIn](m)
	if err != nil {
		return err
	}
	in.ConversationID = s.conv.ID.Hex()
	in.UserID = s.userID
	if in.Username == "" {
		in.Username = s.username
	}
	// ephemeral, never persisted
	return s.g.fab.Publish(ctx, in.ConversationID, TypingFrame(in))
}

func (s *Session) onReadMessages(ctx context.Context, m map[string]any) error {
	if s.kind != kindChat {
		return errs.ErrValidationFailed.WithDetail("read_messages on a notification session")
	}
	if _, err := decodeAs[ReadMessagesIn](m); err != nil {
		return err
	}
	convID := s.conv.ID.Hex()
	_, at, err := s.g.svc.MarkRead(ctx, s.userID, convID)
	if err != nil {
		return err
	}
	s.enqueue(ReadAckFrame(convID, at))
	if err := s.g.fab.Publish(ctx, convID, LastReadUpdateFrame(convID, s.userID, at)); err != nil {
		logger.Errorf("[ws] last read publish conv=%s err=%v", convID, err)
	}
	if total, err := s.g.svc.UnreadTotal(ctx, s.userID); err == nil {
		if err := s.g.fab.Publish(ctx, fabric.UserGroup(s.userID), UnreadCountFrame(total)); err != nil {
			logger.Errorf("[ws] unread publish user=%s err=%v", s.userID, err)
		}
	}
	return nil
}

func (s *Session) onHeartbeat(ctx context.Context) error {
	if err := s.g.presence.Heartbeat(ctx, s.userID); err != nil {
		logger.Warnf("[ws] heartbeat user=%s err=%v", s.userID, err)
	}
	s.enqueue(PongFrame())
	return nil
}

// onPresenceUpdate relays a counterpart's status change into the
// conversation group so the peer's chat view updates live.
func (s *Session) onPresenceUpdate(ctx context.Context, m map[string]any) error {
	if s.kind != kindChat || s.counterpart == "" {
		return nil
	}
	in, err := decodeAs[PresenceUpdateIn](m)
	if err != nil {
		return err
	}
	if in.UserID != s.counterpart {
		return nil
	}
	var lastSeen *time.Time
	if in.LastSeen != "" {
		if ts, perr := time.Parse(time.RFC3339Nano, in.LastSeen); perr == nil {
			lastSeen = &ts
		}
	}
	return s.g.fab.Publish(ctx, s.conv.ID.Hex(), PresenceFrame(in.UserID, in.Status, lastSeen))
}

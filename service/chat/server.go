package chat

import (
	"context"
	"net/http"
	"time"

	"consultchat/logger"
	"consultchat/module/chat/model"
	"consultchat/service/fabric"
	"consultchat/tools/errs"
	"consultchat/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Gateway owns the websocket endpoints: per-conversation chat sockets and
// the per-user notification socket.
type Gateway struct {
	svc        chatAPI
	presence   presenceStore
	fab        fabric.Fabric
	registry   *Registry
	dispatcher notifier
	jwt        security.Options
	upgrader   websocket.Upgrader
}

func NewGateway(svc chatAPI, presence presenceStore, fab fabric.Fabric, registry *Registry, dispatcher notifier, jwt security.Options) *Gateway {
	return &Gateway{
		svc:        svc,
		presence:   presence,
		fab:        fab,
		registry:   registry,
		dispatcher: dispatcher,
		jwt:        jwt,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// browsers connect from the app origin; auth is the token
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the websocket endpoints. Trailing-slash variants
// match what the web client dials.
func (g *Gateway) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws/voxchats/:conversationId/", g.handleChat)
	r.GET("/ws/notifications/", g.handleNotifications)
}

// authenticate verifies the ?token= query credential before the upgrade. A
// missing or invalid token closes the attempt with 401 and no websocket
// handshake at all.
func (g *Gateway) authenticate(c *gin.Context) (string, bool) {
	token := c.Query("token")
	if token == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return "", false
	}
	userID, err := security.Verify(g.jwt, token)
	if err != nil {
		logger.Warnf("[ws] auth rejected err=%v", err)
		c.AbortWithStatus(http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func (g *Gateway) handleChat(c *gin.Context) {
	userID, ok := g.authenticate(c)
	if !ok {
		return
	}
	convID := c.Param("conversationId")

	conv, err := g.svc.Conversation(c.Request.Context(), userID, convID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errs.IsNotFound(err):
			status = http.StatusNotFound
		case errs.IsPermissionDenied(err):
			status = http.StatusForbidden
		}
		c.AbortWithStatus(status)
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[ws] upgrade conv=%s err=%v", convID, err)
		return
	}

	s := newSession(g, conn, userID, g.participantName(conv, userID), kindChat)
	s.conv = conv
	if other, isDirect := conv.Counterpart(userID); isDirect {
		s.counterpart = other
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	g.registry.Connect(ctx, s)

	if err := s.join(conv.ID.Hex()); err != nil {
		logger.Errorf("[ws] join conv=%s err=%v", convID, err)
		s.teardown()
		return
	}

	g.pushBacklog(ctx, s)
	if s.counterpart != "" {
		g.pushCounterpartPresence(ctx, s)
	}

	s.run()
}

func (g *Gateway) handleNotifications(c *gin.Context) {
	userID, ok := g.authenticate(c)
	if !ok {
		return
	}
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[ws] upgrade notifications err=%v", err)
		return
	}

	s := newSession(g, conn, userID, "", kindNotify)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	g.registry.Connect(ctx, s)

	for _, group := range []string{fabric.UserGroup(userID), fabric.PresenceGroup} {
		if err := s.join(group); err != nil {
			logger.Errorf("[ws] join group=%s err=%v", group, err)
			s.teardown()
			return
		}
	}

	if total, err := g.svc.UnreadTotal(ctx, userID); err == nil {
		s.enqueue(UnreadCountFrame(total))
	} else {
		logger.Warnf("[ws] initial unread user=%s err=%v", userID, err)
	}

	s.run()
}

func (g *Gateway) pushBacklog(ctx context.Context, s *Session) {
	msgs, hasMore, err := g.svc.Backlog(ctx, s.userID, s.conv.ID.Hex())
	if err != nil {
		logger.Errorf("[ws] backlog conv=%s err=%v", s.conv.ID.Hex(), err)
		s.enqueue(ErrorFrame(err))
		return
	}
	s.enqueue(Last50Frame(msgs, hasMore))
}

func (g *Gateway) pushCounterpartPresence(ctx context.Context, s *Session) {
	online, err := g.presence.IsOnline(ctx, s.counterpart)
	if err != nil {
		logger.Warnf("[ws] counterpart presence user=%s err=%v", s.counterpart, err)
		return
	}
	status := "offline"
	var lastSeen *time.Time
	if online {
		status = "online"
	} else if ts, ok, err := g.presence.LastSeen(ctx, s.counterpart); err == nil && ok {
		lastSeen = &ts
	}
	s.enqueue(PresenceFrame(s.counterpart, status, lastSeen))
}

func (g *Gateway) participantName(conv *model.Conversation, userID string) string {
	for _, p := range conv.Participants {
		if p.UserID == userID {
			return p.Name
		}
	}
	return ""
}

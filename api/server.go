package api

import (
	"net/http"
	"strconv"
	"strings"

	"consultchat/logger"
	"consultchat/module/chat/model"
	"consultchat/module/chat/service"
	"consultchat/module/chat/store"
	"consultchat/tools/errs"
	"consultchat/tools/security"

	"github.com/gin-gonic/gin"
)

const pageSize = 50

// Server is the REST surface the SPA and collaborator services call. All
// routes except /healthz require the identity collaborator's JWT.
type Server struct {
	svc     *service.ChatService
	devices *store.DeviceStore
	users   *store.UserStore
	jwt     security.Options
}

func NewServer(svc *service.ChatService, devices *store.DeviceStore, users *store.UserStore, jwt security.Options) *Server {
	return &Server{svc: svc, devices: devices, users: users, jwt: jwt}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := r.Group("/api", s.authMiddleware)
	auth.GET("/conversations/", s.listConversations)
	auth.POST("/conversations/direct/", s.createDirect)
	auth.POST("/conversations/group/", s.createGroup)
	auth.GET("/conversations/:id/messages/", s.listMessages)
	auth.PATCH("/conversations/:id/", s.updateConversationRow)
	auth.POST("/messages/", s.appendMessage)
	auth.PATCH("/messages/:id/", s.editMessage)
	auth.DELETE("/messages/:id/", s.deleteMessage)
	auth.POST("/devices/", s.registerDevice)
	auth.DELETE("/devices/:id", s.unregisterDevice)
	auth.POST("/units/:id/members/", s.addUnitMember)
	auth.DELETE("/units/:id/members/:userId", s.removeUnitMember)
	auth.POST("/consults/notify/", s.consultNotify)
	auth.POST("/users/sync/", s.syncUser)
}

func (s *Server) authMiddleware(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		h := c.GetHeader("Authorization")
		if strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	userID, err := security.Verify(s.jwt, token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.Set("userId", userID)
	c.Next()
}

func callerID(c *gin.Context) string {
	return c.GetString("userId")
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.IsNotFound(err):
		status = http.StatusNotFound
	case errs.IsValidationFailed(err):
		status = http.StatusBadRequest
	case errs.IsPermissionDenied(err):
		status = http.StatusForbidden
	case errs.IsTransient(err):
		status = http.StatusServiceUnavailable
	case errs.IsProviderFailure(err):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		logger.Errorf("[api] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"code": errs.CodeOf(err), "error": err.Error()})
}

func (s *Server) listConversations(c *gin.Context) {
	includeArchived := c.Query("includeArchived") == "true"
	rows, err := s.svc.Inbox(c.Request.Context(), callerID(c), includeArchived)
	if err != nil {
		writeError(c, err)
		return
	}
	if rows == nil {
		rows = []model.UserConversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": rows})
}

func (s *Server) createDirect(c *gin.Context) {
	var body struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.ErrValidationFailed.WrapMsg("bad body", "err", err))
		return
	}
	conv, created, err := s.svc.CreateDirect(c.Request.Context(), callerID(c), body.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, conv)
}

func (s *Server) createGroup(c *gin.Context) {
	var body struct {
		Name           string   `json:"name" binding:"required"`
		Description    string   `json:"description"`
		MemberIDs      []string `json:"memberIds"`
		OrganizationID string   `json:"organizationId"`
		LocationID     string   `json:"locationId"`
		UnitID         string   `json:"unitId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.ErrValidationFailed.WrapMsg("bad body", "err", err))
		return
	}
	conv, err := s.svc.CreateGroup(c.Request.Context(), callerID(c),
		body.Name, body.Description, body.MemberIDs,
		body.OrganizationID, body.LocationID, body.UnitID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// listMessages pages newest-first, ?page= is 1-based with 50 per page.
func (s *Server) listMessages(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	msgs, hasMore, err := s.svc.History(c.Request.Context(), callerID(c), c.Param("id"), pageSize, (page-1)*pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "hasMore": hasMore, "page": page})
}

// updateConversationRow mutates the caller's own inbox row: draft text and
// the pin/mute/archive flags. Omitted fields stay untouched; an empty draft
// string clears the draft.
func (s *Server) updateConversationRow(c *gin.Context) {
	var body struct {
		Draft      *string `json:"draft"`
		IsPinned   *bool   `json:"isPinned"`
		IsMuted    *bool   `json:"isMuted"`
		IsArchived *bool   `json:"isArchived"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.ErrValidationFailed.WrapMsg("bad body", "err", err))
		return
	}
	convID := c.Param("id")
	if body.Draft != nil {
		if err := s.svc.SaveDraft(c.Request.Context(), callerID(c), convID, *body.Draft); err != nil {
			writeError(c, err)
			return
		}
	}
	if body.IsPinned != nil || body.IsMuted != nil || body.IsArchived != nil {
		if err := s.svc.SetFlags(c.Request.Context(), callerID(c), convID, body.IsPinned, body.IsMuted, body.IsArchived); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (s *Server) appendMessage(c *gin.Context) {
	var body struct {
		ConversationID string       `json:"conversationId" binding:"required"`
		Content        string       `json:"content"`
		MessageType    string       `json:"messageType"`
		ReplyTo        string       `json:"replyTo"`
		Media          *model.Media `json:"media"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.ErrValidationFailed.WrapMsg("bad body", "err", err))
		return
	}
	msg, err := s.svc.AppendMessage(c.Request.Context(), service.AppendInput{
		ConversationID: body.ConversationID,
		SenderID:       callerID(c),
		Content:        body.Content,
		Type:           body.MessageType,
		ReplyTo:        body.ReplyTo,
		Media:          body.Media,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) editMessage(c *gin.Context) {
	var body struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.ErrValidationFailed.WrapMsg("bad body", "err", err))
		return
	}
	msg, err := s.svc.EditMessage(c.Request.Context(), c.Param("id"), callerID(c), body.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) deleteMessage(c *gin.Context) {
	msg, err := s.svc.DeleteMessage(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) registerDevice(c *gin.Context) {
	var body struct {
		RegistrationID string `json:"registrationId" binding:"required"`
		Type           string `json:"type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.ErrValidationFailed.WrapMsg("bad body", "err", err))
		return
	}
	if err := s.devices.Register(c.Request.Context(), callerID(c), body.RegistrationID, body.Type); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"registered": true})
}

func (s *Server) unregisterDevice(c *gin.Context) {
	if err := s.devices.Unregister(c.Request.Context(), callerID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unregistered": true})
}

func (s *Server) addUnitMember(c *gin.Context) {
	var body struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.ErrValidationFailed.WrapMsg("bad body", "err", err))
		return
	}
	if err := s.svc.AddUnitMember(c.Request.Context(), c.Param("id"), body.UserID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": true})
}

func (s *Server) removeUnitMember(c *gin.Context) {
	if err := s.svc.RemoveUnitMember(c.Request.Context(), c.Param("id"), c.Param("userId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

// consultNotify lets the referral workflow post a system message into the
// direct thread between the caller and the target clinician.
func (s *Server) consultNotify(c *gin.Context) {
	var body struct {
		UserID  string `json:"userId" binding:"required"`
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.ErrValidationFailed.WrapMsg("bad body", "err", err))
		return
	}
	msg, err := s.svc.CreateSystemMessage(c.Request.Context(), callerID(c), body.UserID, body.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// syncUser upserts the identity collaborator's user record into the local
// mirror. Callers sync themselves on login.
func (s *Server) syncUser(c *gin.Context) {
	var u model.User
	if err := c.ShouldBindJSON(&u); err != nil {
		writeError(c, errs.ErrValidationFailed.WrapMsg("bad body", "err", err))
		return
	}
	if u.UserID == "" {
		u.UserID = callerID(c)
	}
	if err := s.users.Upsert(c.Request.Context(), &u); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"synced": true})
}

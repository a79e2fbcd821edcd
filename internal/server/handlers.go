package server

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/chatline/internal/auth"
	"github.com/Tyrowin/chatline/internal/blob"
	"github.com/Tyrowin/chatline/internal/chat"
	"github.com/Tyrowin/chatline/internal/common"
	"github.com/Tyrowin/chatline/internal/config"
	"github.com/Tyrowin/chatline/internal/users"
)

// multipartSlack is allowed on top of the file size for form framing.
const multipartSlack = 1 << 20

// Handlers serves the REST and WebSocket surface.
type Handlers struct {
	users         *users.Service
	tokens        *auth.TokenService
	chat          *chat.Service
	blobs         blob.Store
	hub           *Hub
	upgrader      websocket.Upgrader
	maxUploadSize int64
}

// NewHandlers wires the handlers to their services.
func NewHandlers(us *users.Service, tokens *auth.TokenService, cs *chat.Service, blobs blob.Store, hub *Hub, origins *config.OriginPolicy, maxUploadSize int64) *Handlers {
	return &Handlers{
		users:  us,
		tokens: tokens,
		chat:   cs,
		blobs:  blobs,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.CheckOrigin,
		},
		maxUploadSize: maxUploadSize,
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type postMessageRequest struct {
	Text string `json:"text"`
	Img  string `json:"img"`
}

type authResponse struct {
	User  *users.User `json:"user"`
	Token string      `json:"token"`
}

func errorJSON(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func internalError(c *gin.Context, err error, msg string) {
	log.Error().Err(err).Str("path", c.Request.URL.Path).Msg(msg)
	errorJSON(c, http.StatusInternalServerError, "Internal error")
}

// Register handles POST /api/register.
func (h *Handlers) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "Missing fields")
		return
	}

	user, err := h.users.Register(c.Request.Context(), req.Username, req.Password, req.Name)
	switch {
	case errors.Is(err, common.ErrBadRequest):
		errorJSON(c, http.StatusBadRequest, "Missing fields")
		return
	case errors.Is(err, common.ErrDuplicateUser):
		errorJSON(c, http.StatusBadRequest, "User exists")
		return
	case err != nil:
		internalError(c, err, "Failed to register user")
		return
	}

	h.respondWithToken(c, user)
}

// Login handles POST /api/login.
func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		errorJSON(c, http.StatusBadRequest, "Missing")
		return
	}

	user, err := h.users.Verify(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, common.ErrInvalidCredentials):
		errorJSON(c, http.StatusBadRequest, "Invalid")
		return
	case err != nil:
		internalError(c, err, "Failed to verify user")
		return
	}

	h.respondWithToken(c, user)
}

func (h *Handlers) respondWithToken(c *gin.Context, user *users.User) {
	token, err := h.tokens.Issue(user.ID, user.Username)
	if err != nil {
		internalError(c, err, "Failed to issue token")
		return
	}
	c.JSON(http.StatusOK, authResponse{User: user, Token: token})
}

// UploadProfile handles POST /api/upload-profile and sets the caller's avatar.
func (h *Handlers) UploadProfile(c *gin.Context) {
	ref, ok := h.storeUpload(c, "profile")
	if !ok {
		return
	}

	if err := h.users.SetAvatar(c.Request.Context(), userID(c), ref); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			abortUnauthorized(c, err)
			return
		}
		internalError(c, err, "Failed to set avatar")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": ref})
}

// PostStatus handles POST /api/status.
func (h *Handlers) PostStatus(c *gin.Context) {
	ref, ok := h.storeUpload(c, "status")
	if !ok {
		return
	}

	if _, err := h.chat.PostStatus(c.Request.Context(), userID(c), ref); err != nil {
		internalError(c, err, "Failed to append status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": ref})
}

// storeUpload saves the multipart file in field and returns its reference.
// On failure it has already written the response.
func (h *Handlers) storeUpload(c *gin.Context, field string) (string, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+multipartSlack)

	header, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorJSON(c, http.StatusBadRequest, "File too large")
			return "", false
		}
		errorJSON(c, http.StatusBadRequest, "No file")
		return "", false
	}
	if header.Size > h.maxUploadSize {
		errorJSON(c, http.StatusBadRequest, "File too large")
		return "", false
	}

	name, err := h.putBlob(c, header)
	switch {
	case errors.Is(err, blob.ErrUnsupportedType):
		errorJSON(c, http.StatusBadRequest, "Unsupported file type")
		return "", false
	case err != nil:
		internalError(c, err, "Failed to store upload")
		return "", false
	}

	log.Debug().Str("name", name).Int64("size", header.Size).Int64("user_id", userID(c)).Msg("Upload stored")
	return blob.Reference(name), true
}

// putBlob stores the upload under a name chosen from its sniffed type. The
// client's file name and Content-Type are ignored.
func (h *Handlers) putBlob(c *gin.Context, header *multipart.FileHeader) (string, error) {
	f, err := header.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	contentType, body, err := blob.Sniff(f)
	if err != nil {
		return "", err
	}
	name, err := blob.NewName(contentType)
	if err != nil {
		return "", err
	}
	if err := h.blobs.Put(c.Request.Context(), name, body, header.Size); err != nil {
		return "", err
	}
	return name, nil
}

// ListMessages handles GET /api/messages.
func (h *Handlers) ListMessages(c *gin.Context) {
	msgs, err := h.chat.Messages(c.Request.Context())
	if err != nil {
		internalError(c, err, "Failed to list messages")
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// PostMessage handles POST /api/messages. The message is broadcast to
// every live connection before the response is written.
func (h *Handlers) PostMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "Invalid body")
		return
	}

	msg, err := h.chat.PostMessage(c.Request.Context(), userID(c), req.Text, req.Img)
	switch {
	case errors.Is(err, common.ErrBadRequest):
		errorJSON(c, http.StatusBadRequest, "Missing text")
		return
	case err != nil:
		internalError(c, err, "Failed to post message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

// ListStatuses handles GET /api/statuses.
func (h *Handlers) ListStatuses(c *gin.Context) {
	statuses, err := h.chat.Statuses(c.Request.Context())
	if err != nil {
		internalError(c, err, "Failed to list statuses")
		return
	}
	c.JSON(http.StatusOK, statuses)
}

// ServeUpload handles GET /uploads/:name from either blob backend.
func (h *Handlers) ServeUpload(c *gin.Context) {
	obj, err := h.blobs.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			errorJSON(c, http.StatusNotFound, "Not found")
			return
		}
		internalError(c, err, "Failed to read upload")
		return
	}
	defer obj.Body.Close()

	c.DataFromReader(http.StatusOK, obj.Size, obj.ContentType, obj.Body, map[string]string{
		"X-Content-Type-Options": "nosniff",
	})
}

// WebSocket handles GET /ws. The hub owns the client from here on.
func (h *Handlers) WebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("addr", c.ClientIP()).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, h.hub, c.Request.RemoteAddr)
	if !h.hub.Register(client) {
		_ = conn.Close()
	}
}

// Health handles GET /healthz.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": h.hub.ClientCount()})
}

package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/livekit/protocol/auth"

	"github.com/igorvboas/medcall-ai-sub003/internal/shared"
)

// TokenService issues LiveKit join tokens for online consultations.
type TokenService struct {
	apiKey    string
	apiSecret string
	url       string
}

func NewTokenService(apiKey, apiSecret, url string) *TokenService {
	return &TokenService{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		url:       url,
	}
}

func (s *TokenService) URL() string {
	return s.url
}

func (s *TokenService) Enabled() bool {
	return s.apiKey != "" && s.apiSecret != ""
}

func (s *TokenService) GenerateToken(identity, roomName string) (string, error) {
	at := auth.NewAccessToken(s.apiKey, s.apiSecret)

	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     roomName,
	}

	at.SetIdentity(identity).
		SetValidFor(24 * time.Hour).
		AddGrant(grant)

	return at.ToJWT()
}

func (s *TokenService) GenerateRoomName() string {
	return "room_" + shared.NewID("")
}

type TokenHandler struct {
	tokens *TokenService
	logger *slog.Logger
}

func NewTokenHandler(tokens *TokenService, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		tokens: tokens,
		logger: logger.With("component", "token-handler"),
	}
}

func (h *TokenHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/rooms/token", h.CreateRoom)
	g.POST("/rooms/:room/token", h.IssueToken)
}

type tokenRequest struct {
	Identity string `json:"identity"`
}

// CreateRoom issues a join token for a freshly named room, for the first
// participant of an online consultation.
func (h *TokenHandler) CreateRoom(c echo.Context) error {
	return h.issue(c, h.tokens.GenerateRoomName())
}

func (h *TokenHandler) IssueToken(c echo.Context) error {
	return h.issue(c, c.Param("room"))
}

func (h *TokenHandler) issue(c echo.Context, roomName string) error {
	if !h.tokens.Enabled() {
		return shared.InternalError("livekit_disabled", "LiveKit credentials are not configured")
	}

	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_body", "invalid request body")
	}
	if req.Identity == "" {
		return shared.BadRequest("missing_identity", "identity is required")
	}

	token, err := h.tokens.GenerateToken(req.Identity, roomName)
	if err != nil {
		h.logger.Error("failed to generate token", "error", err, "room", roomName)
		return shared.InternalError("token_failed", "failed to generate join token")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"token": token,
		"url":   h.tokens.URL(),
		"room":  roomName,
	})
}

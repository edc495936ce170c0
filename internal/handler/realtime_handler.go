package handler

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/noah-isme/readmaster-api/internal/middleware"
	"github.com/noah-isme/readmaster-api/internal/realtime"
	"github.com/noah-isme/readmaster-api/internal/utils"
)

// RealtimeConfig tunes websocket sessions.
type RealtimeConfig struct {
	JWTSecret    string
	WriteTimeout time.Duration
	// InboundRate and InboundBurst bound client frames per connection.
	InboundRate  float64
	InboundBurst int
}

// RealtimeHandler upgrades authenticated clients and registers their channel
// so notifications reach every open tab of a user.
type RealtimeHandler struct {
	registry *realtime.Registry
	cfg      RealtimeConfig
	logger   zerolog.Logger
}

// NewRealtimeHandler creates a websocket handler bound to registry.
func NewRealtimeHandler(registry *realtime.Registry, cfg RealtimeConfig, logger zerolog.Logger) *RealtimeHandler {
	if cfg.InboundRate <= 0 {
		cfg.InboundRate = 5
	}
	if cfg.InboundBurst <= 0 {
		cfg.InboundBurst = 10
	}
	return &RealtimeHandler{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With().Str("component", "realtime_handler").Logger(),
	}
}

// Register mounts the websocket endpoint on router at "/ws".
func (h *RealtimeHandler) Register(router fiber.Router) {
	router.Use("/ws", h.authenticate)
	router.Get("/ws", websocket.New(h.handleConnection))
}

// authenticate runs before the upgrade so rejected clients never reach the registry.
func (h *RealtimeHandler) authenticate(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		authorization := c.Get("Authorization")
		const bearer = "bearer "
		if strings.HasPrefix(strings.ToLower(authorization), bearer) {
			token = strings.TrimSpace(authorization[len(bearer):])
		}
	}
	if token == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing authentication token")
	}

	identity, err := middleware.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		requestLogger(h.logger, c).Debug().Err(err).Msg("websocket token rejected")
		return utils.SendError(c, fiber.StatusUnauthorized, "invalid or expired token")
	}

	c.Locals("user_id", identity.UserID)
	c.Locals("user_role", identity.Role)
	c.Locals("request_ctx", requestContext(c))
	return c.Next()
}

type inboundFrame struct {
	Event string `json:"event"`
}

func (h *RealtimeHandler) handleConnection(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "user id missing"))
		_ = conn.Close()
		return
	}

	correlation := ""
	if ctx, ok := conn.Locals("request_ctx").(context.Context); ok {
		correlation = middleware.CorrelationIDFromContext(ctx)
	}
	log := h.logger.With().Str("user_id", userID).Str("correlation_id", correlation).Logger()

	channel := realtime.NewWebsocketChannel(conn, h.cfg.WriteTimeout)
	h.registry.Connect(userID, channel)
	log.Info().Msg("websocket connected")

	defer func() {
		h.registry.Disconnect(userID, channel)
		_ = channel.Close()
		log.Info().Msg("websocket disconnected")
	}()

	limiter := rate.NewLimiter(rate.Limit(h.cfg.InboundRate), h.cfg.InboundBurst)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}

		if !limiter.Allow() {
			log.Warn().Msg("websocket inbound rate exceeded")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit exceeded"),
				time.Now().Add(time.Second))
			return
		}

		if isPing(message) {
			if err := channel.SendPong(); err != nil {
				log.Debug().Err(err).Msg("websocket pong failed")
				return
			}
			continue
		}

		log.Debug().Int("bytes", len(message)).Msg("websocket message ignored")
	}
}

func isPing(message []byte) bool {
	text := strings.TrimSpace(string(message))
	if strings.EqualFold(text, "ping") {
		return true
	}
	var frame inboundFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		return false
	}
	return strings.EqualFold(frame.Event, "ping")
}

package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/auth"
	"github.com/ErinHernandez/TopDog-sub011/internal/delivery"
	"github.com/ErinHernandez/TopDog-sub011/internal/dispatch"
	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
	"github.com/ErinHernandez/TopDog-sub011/internal/presence"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	userIDContextKey         = "draft_alerts_user_id"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingDispatcher = errors.New("dispatcher dependency required")
	errMissingValidator  = errors.New("token validator dependency required")
	errMissingLiveHub    = errors.New("live hub dependency required")
)

// TokenValidator authenticates requests for a role.
type TokenValidator interface {
	ValidateRequest(r *http.Request, role string) (auth.Claims, error)
}

// AlertSubscriber opens live alert sessions.
type AlertSubscriber interface {
	Subscribe(ctx context.Context, userID draft.UserID) (<-chan delivery.Message, func())
}

type Dependencies struct {
	Dispatcher        dispatch.ChangeHandler
	Validator         TokenValidator
	LiveHub           AlertSubscriber
	Gatherer          prometheus.Gatherer
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	if deps.Validator == nil {
		return nil, errMissingValidator
	}
	if deps.LiveHub == nil {
		return nil, errMissingLiveHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		dispatcher: deps.Dispatcher,
		validator:  deps.Validator,
		live:       deps.LiveHub,
		logger:     logger,
		heartbeat:  heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	router.POST("/internal/draft-changes", handler.authorize(auth.RoleTrigger), handler.handleDraftChange)
	router.GET("/alerts/stream", handler.authorize(auth.RoleParticipant), handler.handleAlertStream)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	dispatcher dispatch.ChangeHandler
	validator  TokenValidator
	live       AlertSubscriber
	logger     *zap.Logger
	heartbeat  time.Duration
}

type changeResponsePayload struct {
	EventID          string   `json:"event_id"`
	RoomID           string   `json:"room_id"`
	State            string   `json:"state"`
	Occasions        []string `json:"occasions"`
	Issues           int      `json:"issues"`
	Deliveries       int      `json:"deliveries"`
	Delivered        int      `json:"delivered"`
	Skipped          int      `json:"skipped"`
	Contended        int      `json:"contended"`
	Unresolved       int      `json:"unresolved"`
	RetriesScheduled int      `json:"retries_scheduled"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleDraftChange(c *gin.Context) {
	var change draft.Change
	if err := c.ShouldBindJSON(&change); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	report, err := h.dispatcher.HandleChange(c.Request.Context(), change)
	if err != nil {
		code := "dispatch_failed"
		var serviceErr *dispatch.ServiceError
		if errors.As(err, &serviceErr) {
			code = serviceErr.Code()
		}
		h.logger.Error("draft change dispatch failed",
			zap.String("event_id", change.EventID),
			zap.String("code", code),
			zap.Error(err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": code})
		return
	}

	c.JSON(http.StatusOK, newChangeResponse(report))
}

func newChangeResponse(report dispatch.Report) changeResponsePayload {
	response := changeResponsePayload{
		EventID:          report.EventID,
		RoomID:           report.RoomID.String(),
		State:            string(report.State),
		Occasions:        make([]string, 0, len(report.Occasions)),
		Issues:           len(report.Issues),
		Deliveries:       len(report.Records),
		Skipped:          report.Skipped,
		Contended:        report.Contended,
		Unresolved:       report.Unresolved,
		RetriesScheduled: report.RetriesScheduled,
	}
	for _, occasion := range report.Occasions {
		response.Occasions = append(response.Occasions, occasion.Kind.String())
	}
	for _, record := range report.Records {
		if record.Outcome.Status == delivery.OutcomeDelivered {
			response.Delivered++
		}
	}
	return response
}

func (h *httpHandler) handleAlertStream(c *gin.Context) {
	userID := draft.UserID(c.GetString(userIDContextKey))
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx := c.Request.Context()
	alerts, cleanup := h.live.Subscribe(ctx, userID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	h.logger.Debug("alert stream opened", zap.String("user_id", userID.String()))
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-alerts:
			if !ok {
				return false
			}
			c.SSEvent(presence.EventAlert, message)
			return true
		case <-ticker.C:
			c.SSEvent(presence.EventHeartbeat, gin.H{"timestamp": time.Now().UnixMilli()})
			return true
		}
	})
	h.logger.Debug("alert stream closed", zap.String("user_id", userID.String()))
}

func (h *httpHandler) authorize(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := h.validator.ValidateRequest(c.Request, role)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) {
				h.logger.Info("token validation failed", zap.String("role", role), zap.Error(err))
			} else {
				h.logger.Warn("token validation failed", zap.String("role", role), zap.Error(err))
			}
			status := http.StatusUnauthorized
			if errors.Is(err, auth.ErrMissingRole) {
				status = http.StatusForbidden
			}
			c.AbortWithStatusJSON(status, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(userIDContextKey, claims.Subject)
		c.Next()
	}
}

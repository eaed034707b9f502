package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"onboarding-calls/internal/calls"
	"onboarding-calls/internal/httpapi"
	"onboarding-calls/pkg/apperr"
	"onboarding-calls/pkg/logger"
)

const maxBodyBytes = 1 << 20

// CallbackApplier is the part of calls.Service the webhook needs.
type CallbackApplier interface {
	HandleCallback(ctx context.Context, keys calls.CorrelationKeys, res calls.Result) (calls.CallbackOutcome, error)
}

// Handler serves POST /webhooks/happyrobot. It only parses; correlation and
// merging happen in the calls service.
type Handler struct {
	Calls CallbackApplier
}

func NewHandler(svc CallbackApplier) *Handler {
	return &Handler{Calls: svc}
}

type callbackResponse struct {
	OK            bool   `json:"ok"`
	CallID        string `json:"callId"`
	RiderID       string `json:"riderId"`
	Created       bool   `json:"created"`
	StatusChanged bool   `json:"statusChanged"`
}

func (h *Handler) HappyRobot(c *gin.Context) {
	log := logger.FromGin(c)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		httpapi.RespondError(c, apperr.Wrap(apperr.KindBadRequest, "could not read body", err))
		return
	}
	if len(body) > maxBodyBytes {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	payload, err := Decode(body)
	if err != nil {
		msg := "invalid json"
		if errors.Is(err, ErrNotObject) {
			msg = "payload must be a JSON object"
		}
		log.Warn("callback rejected", "err", err)
		httpapi.RespondError(c, apperr.Wrap(apperr.KindBadRequest, msg, err))
		return
	}

	keys, res := Extract(payload)
	out, err := h.Calls.HandleCallback(c.Request.Context(), keys, res)
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, callbackResponse{
		OK:            true,
		CallID:        out.CallID,
		RiderID:       out.RiderID,
		Created:       out.Created,
		StatusChanged: out.StatusChanged,
	})
}

// Register mounts the callback route behind the secret check and rate limiter.
func Register(r gin.IRoutes, h *Handler, secret string, limiter *IPRateLimiter) {
	handlers := []gin.HandlerFunc{}
	if limiter != nil {
		handlers = append(handlers, limiter.RateLimit())
	}
	handlers = append(handlers, RequireSecret(secret), h.HappyRobot)
	r.POST("/webhooks/happyrobot", handlers...)
}

package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feen-dev/feen-gateway/internal/apperr"
	"github.com/feen-dev/feen-gateway/internal/httperr"
	"github.com/feen-dev/feen-gateway/internal/model"
	"github.com/feen-dev/feen-gateway/internal/process"
)

func registerWebhookRoutes(rg *gin.RouterGroup, proc *process.Context) {
	webhooks := rg.Group("/webhooks")
	webhooks.POST("", createWebhook(proc))
	webhooks.GET("", listWebhooks(proc))
	webhooks.GET("/:id", getWebhook(proc))
	webhooks.DELETE("/:id", deleteWebhook(proc))
}

type createWebhookRequest struct {
	URL    string   `json:"url"    binding:"required,url"`
	Events []string `json:"events" binding:"required,min=1"`
}

type webhookResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    *string   `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

func toWebhookResponse(w *model.Webhook) webhookResponse {
	return webhookResponse{
		ID:        w.ID,
		URL:       w.URL,
		Events:    w.Events,
		Active:    w.Active,
		CreatedAt: w.CreatedAt,
	}
}

func createWebhook(proc *process.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := RequestContextFrom(c.Request.Context())
		if !ok {
			httperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "missing caller identity"))
			return
		}
		var req createWebhookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeValidationError, "invalid request body", err))
			return
		}
		secret, err := newWebhookSecret()
		if err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeInternalError, "generate webhook secret", err))
			return
		}
		hook := &model.Webhook{
			ID:          uuid.NewString(),
			OwnerUserID: rc.CallerUserID,
			URL:         req.URL,
			Secret:      secret,
			Events:      req.Events,
			Active:      true,
			CreatedAt:   time.Now(),
		}
		if err := proc.Store.Webhooks.Create(c.Request.Context(), hook); err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeDatabaseError, "create webhook", err))
			return
		}
		_ = proc.RecordAudit(c.Request.Context(), &model.AuditLog{
			UserID:    rc.CallerUserID,
			Action:    model.AuditWebhookCreated,
			Details:   map[string]any{"webhook_id": hook.ID, "url": hook.URL},
			RequestID: httperr.RequestID(c),
		})
		// The signing secret is shown once, at creation, same convention as
		// a shared token's access token.
		resp := toWebhookResponse(hook)
		resp.Secret = &secret
		c.JSON(http.StatusCreated, resp)
	}
}

func listWebhooks(proc *process.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := RequestContextFrom(c.Request.Context())
		if !ok {
			httperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "missing caller identity"))
			return
		}
		list, err := proc.Store.Webhooks.ListByOwner(c.Request.Context(), rc.CallerUserID)
		if err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeDatabaseError, "list webhooks", err))
			return
		}
		out := make([]webhookResponse, 0, len(list))
		for _, w := range list {
			out = append(out, toWebhookResponse(w))
		}
		c.JSON(http.StatusOK, out)
	}
}

func ownedWebhook(proc *process.Context, c *gin.Context, rc *RequestContext, id string) (*model.Webhook, bool) {
	w, err := proc.Store.Webhooks.Get(c.Request.Context(), id)
	if err != nil || w.OwnerUserID != rc.CallerUserID {
		httperr.Respond(c, apperr.New(apperr.CodeNotFound, "webhook not found"))
		return nil, false
	}
	return w, true
}

func getWebhook(proc *process.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := RequestContextFrom(c.Request.Context())
		if !ok {
			httperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "missing caller identity"))
			return
		}
		w, ok := ownedWebhook(proc, c, rc, c.Param("id"))
		if !ok {
			return
		}
		c.JSON(http.StatusOK, toWebhookResponse(w))
	}
}

func deleteWebhook(proc *process.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := RequestContextFrom(c.Request.Context())
		if !ok {
			httperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "missing caller identity"))
			return
		}
		w, ok := ownedWebhook(proc, c, rc, c.Param("id"))
		if !ok {
			return
		}
		if err := proc.Store.Webhooks.Delete(c.Request.Context(), w.ID); err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeDatabaseError, "delete webhook", err))
			return
		}
		_ = proc.RecordAudit(c.Request.Context(), &model.AuditLog{
			UserID:    rc.CallerUserID,
			Action:    model.AuditWebhookDeleted,
			Details:   map[string]any{"webhook_id": w.ID},
			RequestID: httperr.RequestID(c),
		})
		c.Status(http.StatusNoContent)
	}
}

func newWebhookSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

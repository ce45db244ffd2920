package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feen-dev/feen-gateway/internal/apperr"
	"github.com/feen-dev/feen-gateway/internal/httperr"
	"github.com/feen-dev/feen-gateway/internal/model"
	"github.com/feen-dev/feen-gateway/internal/process"
	"github.com/feen-dev/feen-gateway/internal/store/postgres"
	"github.com/feen-dev/feen-gateway/internal/vault"
)

func registerTokenRoutes(rg *gin.RouterGroup, proc *process.Context) {
	tokens := rg.Group("/shared-tokens")
	tokens.POST("", createSharedToken(proc))
	tokens.GET("", listSharedTokens(proc))
	tokens.GET("/:id", getSharedToken(proc))
	tokens.PATCH("/:id", updateSharedToken(proc))
	tokens.DELETE("/:id", deleteSharedToken(proc))
	tokens.POST("/:id/rotate", rotateSharedToken(proc))
}

type createSharedTokenRequest struct {
	APIKeyID         string     `json:"apiKeyId"      binding:"required"`
	Name             *string    `json:"name"`
	RatePerMinute    int        `json:"ratePerMinute"`
	DailyCap         *int       `json:"dailyCap"`
	MaxTotalUse      *int64     `json:"maxTotalUse"`
	ExpiresAt        *time.Time `json:"expiresAt"`
	AllowedIPs       []string   `json:"allowedIps"`
	AllowedModels    []string   `json:"allowedModels"`
	Scopes           []string   `json:"scopes"`
	RequireSignature bool       `json:"requireSignature"`
	SigningSecret    *string    `json:"signingSecret"`
}

type sharedTokenResponse struct {
	ID               string     `json:"id"`
	APIKeyID         string     `json:"apiKeyId"`
	AccessToken      *string    `json:"accessToken,omitempty"`
	CopyHint         *string    `json:"copyHint,omitempty"`
	Name             *string    `json:"name,omitempty"`
	RatePerMinute    int        `json:"ratePerMinute"`
	DailyCap         *int       `json:"dailyCap,omitempty"`
	UsageCount       int64      `json:"usageCount"`
	MaxTotalUse      *int64     `json:"maxTotalUse,omitempty"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	AllowedIPs       []string   `json:"allowedIps,omitempty"`
	AllowedModels    []string   `json:"allowedModels,omitempty"`
	Scopes           []string   `json:"scopes"`
	RequireSignature bool       `json:"requireSignature"`
	Active           bool       `json:"active"`
	LastUsedAt       *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func toSharedTokenResponse(t *model.SharedToken) sharedTokenResponse {
	resp := sharedTokenResponse{
		ID:               t.ID,
		APIKeyID:         t.APIKeyID,
		AccessToken:      t.AccessToken,
		Name:             t.Name,
		RatePerMinute:    t.RatePerMinute,
		DailyCap:         t.DailyCap,
		UsageCount:       t.UsageCount,
		MaxTotalUse:      t.MaxTotalUse,
		ExpiresAt:        t.ExpiresAt,
		AllowedIPs:       t.AllowedIPs,
		AllowedModels:    t.AllowedModels,
		Scopes:           t.Scopes,
		RequireSignature: t.RequireSignature,
		Active:           t.Active,
		LastUsedAt:       t.LastUsedAt,
		CreatedAt:        t.CreatedAt,
	}
	if t.AccessToken != nil {
		hint := vault.CopyAffordance(*t.AccessToken)
		resp.CopyHint = &hint
	}
	return resp
}

func createSharedToken(proc *process.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := RequestContextFrom(c.Request.Context())
		if !ok {
			httperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "missing caller identity"))
			return
		}
		var req createSharedTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeValidationError, "invalid request body", err))
			return
		}
		if _, ok := ownedAPIKey(proc, c, rc, req.APIKeyID); !ok {
			return
		}

		plain, err := vault.MintAccessToken()
		if err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeInternalError, "mint access token", err))
			return
		}
		rate := req.RatePerMinute
		if rate <= 0 {
			rate = proc.Config.RateLimit.DefaultPerMinute
		}
		signingSecret := req.SigningSecret
		if req.RequireSignature && signingSecret == nil {
			secret, err := vault.MintAccessToken()
			if err != nil {
				httperr.Respond(c, apperr.Wrap(apperr.CodeInternalError, "mint signing secret", err))
				return
			}
			signingSecret = &secret
		}

		var stored *string
		if proc.Config.Vault.PersistPlaintextToken {
			stored = &plain
		}
		token := &model.SharedToken{
			ID:               uuid.NewString(),
			APIKeyID:         req.APIKeyID,
			OwnerUserID:      rc.CallerUserID,
			AccessToken:      stored,
			TokenHash:        proc.Box.KeyedHash(plain),
			Name:             req.Name,
			RatePerMinute:    rate,
			DailyCap:         req.DailyCap,
			MaxTotalUse:      req.MaxTotalUse,
			ExpiresAt:        req.ExpiresAt,
			AllowedIPs:       req.AllowedIPs,
			AllowedModels:    req.AllowedModels,
			Scopes:           req.Scopes,
			RequireSignature: req.RequireSignature,
			SigningSecret:    signingSecret,
			Active:           true,
			CreatedAt:        time.Now(),
		}
		audit := &model.AuditLog{
			ID:        uuid.NewString(),
			UserID:    rc.CallerUserID,
			Action:    model.AuditSharedKeyCreated,
			Details:   map[string]any{"shared_token_id": token.ID, "api_key_id": token.APIKeyID},
			RequestID: httperr.RequestID(c),
			CreatedAt: time.Now(),
		}
		if err := postgres.CreateSharedTokenWithAudit(c.Request.Context(), proc.Store.Pool(), token, audit); err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeDatabaseError, "create shared token", err))
			return
		}

		// The plaintext is always returned on creation, independent of the
		// persist-plaintext setting: it is the one moment the creator can
		// see it, matching spec.md §9's "returned exactly once" invariant.
		resp := toSharedTokenResponse(token)
		resp.AccessToken = &plain
		hint := vault.CopyAffordance(plain)
		resp.CopyHint = &hint
		c.JSON(http.StatusCreated, resp)
	}
}

func listSharedTokens(proc *process.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := RequestContextFrom(c.Request.Context())
		if !ok {
			httperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "missing caller identity"))
			return
		}
		list, err := proc.Store.SharedTokens.ListByOwner(c.Request.Context(), rc.CallerUserID)
		if err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeDatabaseError, "list shared tokens", err))
			return
		}
		out := make([]sharedTokenResponse, 0, len(list))
		for _, t := range list {
			out = append(out, toSharedTokenResponse(t))
		}
		c.JSON(http.StatusOK, out)
	}
}

func ownedSharedToken(proc *process.Context, c *gin.Context, rc *RequestContext, id string) (*model.SharedToken, bool) {
	t, err := proc.Store.SharedTokens.Get(c.Request.Context(), id)
	if err != nil || t.OwnerUserID != rc.CallerUserID {
		httperr.Respond(c, apperr.New(apperr.CodeNotFound, "shared token not found"))
		return nil, false
	}
	return t, true
}

func getSharedToken(proc *process.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := RequestContextFrom(c.Request.Context())
		if !ok {
			httperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "missing caller identity"))
			return
		}
		t, ok := ownedSharedToken(proc, c, rc, c.Param("id"))
		if !ok {
			return
		}
		c.JSON(http.StatusOK, toSharedTokenResponse(t))
	}
}

type updateSharedTokenRequest struct {
	Name             *string    `json:"name"`
	RatePerMinute    *int       `json:"ratePerMinute"`
	DailyCap         *int       `json:"dailyCap"`
	MaxTotalUse      *int64     `json:"maxTotalUse"`
	ExpiresAt        *time.Time `json:"expiresAt"`
	AllowedIPs       []string   `json:"allowedIps"`
	AllowedModels    []string   `json:"allowedModels"`
	Scopes           []string   `json:"scopes"`
	RequireSignature *bool      `json:"requireSignature"`
	Active           *bool      `json:"active"`
}

func updateSharedToken(proc *process.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := RequestContextFrom(c.Request.Context())
		if !ok {
			httperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "missing caller identity"))
			return
		}
		t, ok := ownedSharedToken(proc, c, rc, c.Param("id"))
		if !ok {
			return
		}
		var req updateSharedTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeValidationError, "invalid request body", err))
			return
		}
		if req.Name != nil {
			t.Name = req.Name
		}
		if req.RatePerMinute != nil {
			t.RatePerMinute = *req.RatePerMinute
		}
		if req.DailyCap != nil {
			t.DailyCap = req.DailyCap
		}
		if req.MaxTotalUse != nil {
			t.MaxTotalUse = req.MaxTotalUse
		}
		if req.ExpiresAt != nil {
			t.ExpiresAt = req.ExpiresAt
		}
		if req.AllowedIPs != nil {
			t.AllowedIPs = req.AllowedIPs
		}
		if req.AllowedModels != nil {
			t.AllowedModels = req.AllowedModels
		}
		if req.Scopes != nil {
			t.Scopes = req.Scopes
		}
		if req.RequireSignature != nil {
			t.RequireSignature = *req.RequireSignature
		}
		if req.Active != nil {
			t.Active = *req.Active
		}
		if err := proc.Store.SharedTokens.Update(c.Request.Context(), t); err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeDatabaseError, "update shared token", err))
			return
		}
		_ = proc.RecordAudit(c.Request.Context(), &model.AuditLog{
			UserID:    rc.CallerUserID,
			Action:    model.AuditSharedKeyUpdated,
			Details:   map[string]any{"shared_token_id": t.ID},
			RequestID: httperr.RequestID(c),
		})
		c.JSON(http.StatusOK, toSharedTokenResponse(t))
	}
}

func deleteSharedToken(proc *process.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := RequestContextFrom(c.Request.Context())
		if !ok {
			httperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "missing caller identity"))
			return
		}
		t, ok := ownedSharedToken(proc, c, rc, c.Param("id"))
		if !ok {
			return
		}
		if err := proc.Store.SharedTokens.Delete(c.Request.Context(), t.ID); err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeDatabaseError, "delete shared token", err))
			return
		}
		_ = proc.RecordAudit(c.Request.Context(), &model.AuditLog{
			UserID:    rc.CallerUserID,
			Action:    model.AuditSharedKeyDeleted,
			Details:   map[string]any{"shared_token_id": t.ID},
			RequestID: httperr.RequestID(c),
		})
		c.Status(http.StatusNoContent)
	}
}

// rotateSharedToken is the operator-triggered counterpart to the automatic
// rotation C9 runs on suspicious activity; both paths share Controller.rotate.
func rotateSharedToken(proc *process.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := RequestContextFrom(c.Request.Context())
		if !ok {
			httperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "missing caller identity"))
			return
		}
		t, ok := ownedSharedToken(proc, c, rc, c.Param("id"))
		if !ok {
			return
		}
		if err := proc.Rotation.ManualRotate(c.Request.Context(), t); err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeInternalError, "rotate shared token", err))
			return
		}
		rotated, err := proc.Store.SharedTokens.Get(c.Request.Context(), t.ID)
		if err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeDatabaseError, "reload rotated token", err))
			return
		}
		c.JSON(http.StatusOK, toSharedTokenResponse(rotated))
	}
}

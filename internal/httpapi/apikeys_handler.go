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

func registerAPIKeyRoutes(rg *gin.RouterGroup, proc *process.Context) {
	keys := rg.Group("/api-keys")
	keys.POST("", createAPIKey(proc))
	keys.GET("", listAPIKeys(proc))
	keys.GET("/:id", getAPIKey(proc))
	keys.PATCH("/:id", updateAPIKey(proc))
	keys.DELETE("/:id", deleteAPIKey(proc))
	keys.POST("/:id/reveal", revealAPIKey(proc))
}

type createAPIKeyRequest struct {
	Provider      string `json:"provider"       binding:"required"`
	Material      string `json:"material"       binding:"required"`
	RatePerMinute int    `json:"ratePerMinute"`
	DailyCap      *int   `json:"dailyCap"`
}

type apiKeyResponse struct {
	ID            string     `json:"id"`
	Provider      string     `json:"provider"`
	DisplayPrefix string     `json:"displayPrefix"`
	RatePerMinute int        `json:"ratePerMinute"`
	DailyCap      *int       `json:"dailyCap,omitempty"`
	Active        bool       `json:"active"`
	LastUsedAt    *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func toAPIKeyResponse(k *model.APIKey) apiKeyResponse {
	return apiKeyResponse{
		ID:            k.ID,
		Provider:      string(k.Provider),
		DisplayPrefix: k.DisplayPrefix,
		RatePerMinute: k.RatePerMinute,
		DailyCap:      k.DailyCap,
		Active:        k.Active,
		LastUsedAt:    k.LastUsedAt,
		CreatedAt:     k.CreatedAt,
	}
}

var validProviders = map[string]model.Provider{
	"OPENAI":       model.ProviderOpenAI,
	"ANTHROPIC":    model.ProviderAnthropic,
	"GOOGLE":       model.ProviderGoogle,
	"COHERE":       model.ProviderCohere,
	"MISTRAL":      model.ProviderMistral,
	"GROQ":         model.ProviderGroq,
	"TOGETHER":     model.ProviderTogether,
	"REPLICATE":    model.ProviderReplicate,
	"HUGGINGFACE":  model.ProviderHuggingFace,
	"BYTEZ":        model.ProviderBytez,
	"AZURE_OPENAI": model.ProviderAzureOpenAI,
	"CUSTOM":       model.ProviderCustom,
}

func createAPIKey(proc *process.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := RequestContextFrom(c.Request.Context())
		if !ok {
			httperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "missing caller identity"))
			return
		}
		var req createAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeValidationError, "invalid request body", err))
			return
		}
		provider, ok := validProviders[req.Provider]
		if !ok {
			httperr.Respond(c, apperr.New(apperr.CodeInvalidInput, "unknown provider"))
			return
		}

		encrypted, err := proc.Box.Encrypt([]byte(req.Material))
		if err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeInternalError, "encrypt api key material", err))
			return
		}
		rate := req.RatePerMinute
		if rate <= 0 {
			rate = proc.Config.RateLimit.DefaultPerMinute
		}
		key := &model.APIKey{
			ID:                uuid.NewString(),
			OwnerUserID:       rc.CallerUserID,
			Provider:          provider,
			EncryptedMaterial: encrypted,
			MaterialHash:      proc.Box.KeyedHash(req.Material),
			DisplayPrefix:     vault.DisplayPrefix(req.Material),
			RatePerMinute:     rate,
			DailyCap:          req.DailyCap,
			Active:            true,
			CreatedAt:         time.Now(),
		}
		if err := proc.Store.APIKeys.Create(c.Request.Context(), key); err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeDatabaseError, "create api key", err))
			return
		}
		_ = proc.RecordAudit(c.Request.Context(), &model.AuditLog{
			UserID:    rc.CallerUserID,
			Action:    model.AuditAPIKeyCreated,
			Details:   map[string]any{"api_key_id": key.ID, "provider": string(provider)},
			RequestID: httperr.RequestID(c),
		})
		c.JSON(http.StatusCreated, toAPIKeyResponse(key))
	}
}

func listAPIKeys(proc *process.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := RequestContextFrom(c.Request.Context())
		if !ok {
			httperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "missing caller identity"))
			return
		}
		list, err := proc.Store.APIKeys.ListByOwner(c.Request.Context(), rc.CallerUserID)
		if err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeDatabaseError, "list api keys", err))
			return
		}
		out := make([]apiKeyResponse, 0, len(list))
		for _, k := range list {
			out = append(out, toAPIKeyResponse(k))
		}
		c.JSON(http.StatusOK, out)
	}
}

// ownedAPIKey fetches k and confirms rc owns it, collapsing both "not
// found" and "not yours" to CodeNotFound so tenant existence never leaks.
func ownedAPIKey(proc *process.Context, c *gin.Context, rc *RequestContext, id string) (*model.APIKey, bool) {
	k, err := proc.Store.APIKeys.Get(c.Request.Context(), id)
	if err != nil || k.OwnerUserID != rc.CallerUserID {
		httperr.Respond(c, apperr.New(apperr.CodeNotFound, "api key not found"))
		return nil, false
	}
	return k, true
}

func getAPIKey(proc *process.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := RequestContextFrom(c.Request.Context())
		if !ok {
			httperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "missing caller identity"))
			return
		}
		k, ok := ownedAPIKey(proc, c, rc, c.Param("id"))
		if !ok {
			return
		}
		c.JSON(http.StatusOK, toAPIKeyResponse(k))
	}
}

type updateAPIKeyRequest struct {
	RatePerMinute *int  `json:"ratePerMinute"`
	DailyCap      *int  `json:"dailyCap"`
	Active        *bool `json:"active"`
}

func updateAPIKey(proc *process.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := RequestContextFrom(c.Request.Context())
		if !ok {
			httperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "missing caller identity"))
			return
		}
		k, ok := ownedAPIKey(proc, c, rc, c.Param("id"))
		if !ok {
			return
		}
		var req updateAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeValidationError, "invalid request body", err))
			return
		}
		if req.RatePerMinute != nil {
			k.RatePerMinute = *req.RatePerMinute
		}
		if req.DailyCap != nil {
			k.DailyCap = req.DailyCap
		}
		if req.Active != nil {
			k.Active = *req.Active
		}
		if err := proc.Store.APIKeys.Update(c.Request.Context(), k); err != nil {
			if err == postgres.ErrNotFound {
				httperr.Respond(c, apperr.New(apperr.CodeNotFound, "api key not found"))
				return
			}
			httperr.Respond(c, apperr.Wrap(apperr.CodeDatabaseError, "update api key", err))
			return
		}
		_ = proc.RecordAudit(c.Request.Context(), &model.AuditLog{
			UserID:    rc.CallerUserID,
			Action:    model.AuditAPIKeyUpdated,
			Details:   map[string]any{"api_key_id": k.ID},
			RequestID: httperr.RequestID(c),
		})
		c.JSON(http.StatusOK, toAPIKeyResponse(k))
	}
}

func deleteAPIKey(proc *process.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := RequestContextFrom(c.Request.Context())
		if !ok {
			httperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "missing caller identity"))
			return
		}
		k, ok := ownedAPIKey(proc, c, rc, c.Param("id"))
		if !ok {
			return
		}
		if err := proc.Store.APIKeys.Delete(c.Request.Context(), k.ID); err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeDatabaseError, "delete api key", err))
			return
		}
		_ = proc.RecordAudit(c.Request.Context(), &model.AuditLog{
			UserID:    rc.CallerUserID,
			Action:    model.AuditAPIKeyDeleted,
			Details:   map[string]any{"api_key_id": k.ID},
			RequestID: httperr.RequestID(c),
		})
		c.Status(http.StatusNoContent)
	}
}

func revealAPIKey(proc *process.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, ok := RequestContextFrom(c.Request.Context())
		if !ok {
			httperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "missing caller identity"))
			return
		}
		k, ok := ownedAPIKey(proc, c, rc, c.Param("id"))
		if !ok {
			return
		}
		plaintext, err := proc.Box.Decrypt(k.EncryptedMaterial)
		if err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeInternalError, "decrypt api key material", err))
			return
		}
		_ = proc.RecordAudit(c.Request.Context(), &model.AuditLog{
			UserID:    rc.CallerUserID,
			Action:    model.AuditAPIKeyRevealed,
			Details:   map[string]any{"api_key_id": k.ID},
			RequestID: httperr.RequestID(c),
		})
		c.JSON(http.StatusOK, gin.H{"material": string(plaintext)})
	}
}

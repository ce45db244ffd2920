// Package model defines the gateway's persistent and transient entities.
package model

import "time"

// Provider is one of the closed set of upstream inference providers.
type Provider string

const (
	ProviderOpenAI      Provider = "OPENAI"
	ProviderAnthropic   Provider = "ANTHROPIC"
	ProviderGoogle      Provider = "GOOGLE"
	ProviderCohere      Provider = "COHERE"
	ProviderMistral     Provider = "MISTRAL"
	ProviderGroq        Provider = "GROQ"
	ProviderTogether    Provider = "TOGETHER"
	ProviderReplicate   Provider = "REPLICATE"
	ProviderHuggingFace Provider = "HUGGINGFACE"
	ProviderBytez       Provider = "BYTEZ"
	ProviderAzureOpenAI Provider = "AZURE_OPENAI"
	ProviderCustom      Provider = "CUSTOM"
)

// User is an identity that owns API keys and shared tokens.
type User struct {
	ID               string
	Email            string
	Disabled         bool
	TOTPSecret       *string // base32 secret, set at enrollment and cleared when 2FA is disabled
	TOTPEnabled      bool
	BackupCodeHashes []string // SHA-256 hex digests, consumed one at a time
	CreatedAt        time.Time
}

// APIKey is a caller-deposited upstream credential (the vault record).
type APIKey struct {
	ID                string
	OwnerUserID       string
	TeamID            *string
	Provider          Provider
	EncryptedMaterial string // base64 nonce‖tag‖ciphertext, never decrypted except at proxy time
	MaterialHash      string // keyed hash, dedup lookup only
	DisplayPrefix     string
	RatePerMinute     int
	DailyCap          *int
	Active            bool
	LastUsedAt        *time.Time
	CreatedAt         time.Time
}

// SharedToken delegates use of exactly one APIKey under a policy envelope.
type SharedToken struct {
	ID               string
	APIKeyID         string
	OwnerUserID      string
	AccessToken      *string // plaintext, present only if Vault.PersistPlaintextToken
	TokenHash        string  // sole lookup key at request time
	Name             *string
	RatePerMinute    int
	DailyCap         *int
	UsageCount       int64
	MaxTotalUse      *int64
	ExpiresAt        *time.Time
	AllowedIPs       []string // literal addresses or CIDRs; empty = any
	AllowedModels    []string // empty = any
	Scopes           []string // subset of the scope vocabulary, or "*"
	RequireSignature bool
	SigningSecret    *string
	Active           bool
	LastUsedAt       *time.Time
	CreatedAt        time.Time
}

// HasScope reports whether the token's scope set satisfies required.
func (t *SharedToken) HasScope(required string) bool {
	if required == "" {
		return true
	}
	for _, s := range t.Scopes {
		if s == "*" || s == required {
			return true
		}
	}
	return false
}

// UsageLog is an immutable per-attempt usage record.
type UsageLog struct {
	ID              string
	APIKeyID        string
	SharedTokenID   string
	UserID          string
	Provider        Provider
	Model           *string
	Endpoint        string
	Method          string
	StatusCode      int
	RequestTokens   *int
	ResponseTokens  *int
	TotalTokens     *int
	LatencyMS       int64
	ClientIP        string
	UserAgent       string
	CreatedAt       time.Time
}

// AuditAction enumerates administratively sensitive event types.
type AuditAction string

const (
	AuditAPIKeyCreated       AuditAction = "API_KEY_CREATED"
	AuditAPIKeyUpdated       AuditAction = "API_KEY_UPDATED"
	AuditAPIKeyDeleted       AuditAction = "API_KEY_DELETED"
	AuditAPIKeyRevealed      AuditAction = "API_KEY_REVEALED"
	AuditSharedKeyCreated    AuditAction = "SHARED_KEY_CREATED"
	AuditSharedKeyUpdated    AuditAction = "SHARED_KEY_UPDATED"
	AuditSharedKeyDeleted    AuditAction = "SHARED_KEY_DELETED"
	AuditTokenRotated        AuditAction = "TOKEN_ROTATED"
	AuditSuspiciousActivity  AuditAction = "SUSPICIOUS_ACTIVITY"
	AuditTwoFactorEnabled    AuditAction = "2FA_ENABLED"
	AuditTwoFactorDisabled   AuditAction = "2FA_DISABLED"
	AuditTwoFactorVerified   AuditAction = "2FA_VERIFIED"
	AuditTwoFactorBackupUsed AuditAction = "2FA_BACKUP_CODE_USED"
	AuditWebhookCreated      AuditAction = "WEBHOOK_CREATED"
	AuditWebhookDeleted      AuditAction = "WEBHOOK_DELETED"
	AuditWebhookDelivered    AuditAction = "WEBHOOK_DELIVERED"
	AuditAPIError            AuditAction = "API_ERROR"
)

// AuditLog is an append-only record of a sensitive event.
type AuditLog struct {
	ID        string
	UserID    string
	Action    AuditAction
	Details   map[string]any
	RequestID string
	CreatedAt time.Time
}

// Webhook is a registered delivery endpoint for event fan-out (C10).
type Webhook struct {
	ID          string
	OwnerUserID string
	URL         string
	Secret      string
	Events      []string
	Active      bool
	CreatedAt   time.Time
}

// WebhookEvent is a queued payload awaiting delivery.
type WebhookEvent struct {
	ID        string
	Event     string
	Payload   map[string]any
	CreatedAt time.Time
}

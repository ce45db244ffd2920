package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feen-dev/feen-gateway/internal/config"
	"github.com/feen-dev/feen-gateway/internal/model"
	"github.com/feen-dev/feen-gateway/internal/process"
	"github.com/feen-dev/feen-gateway/internal/store/postgres"
	"github.com/feen-dev/feen-gateway/internal/vault"
)

type fakeAPIKeyRepo struct {
	byID map[string]*model.APIKey
}

func newFakeAPIKeyRepo() *fakeAPIKeyRepo { return &fakeAPIKeyRepo{byID: map[string]*model.APIKey{}} }

func (f *fakeAPIKeyRepo) Create(_ context.Context, k *model.APIKey) error {
	f.byID[k.ID] = k
	return nil
}
func (f *fakeAPIKeyRepo) Get(_ context.Context, id string) (*model.APIKey, error) {
	k, ok := f.byID[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return k, nil
}
func (f *fakeAPIKeyRepo) ListByOwner(_ context.Context, owner string) ([]*model.APIKey, error) {
	var out []*model.APIKey
	for _, k := range f.byID {
		if k.OwnerUserID == owner {
			out = append(out, k)
		}
	}
	return out, nil
}
func (f *fakeAPIKeyRepo) ListActiveByOwnerAndProviders(
	_ context.Context, _ string, _ []model.Provider,
) ([]*model.APIKey, error) {
	return nil, nil
}
func (f *fakeAPIKeyRepo) Update(_ context.Context, k *model.APIKey) error {
	if _, ok := f.byID[k.ID]; !ok {
		return postgres.ErrNotFound
	}
	f.byID[k.ID] = k
	return nil
}
func (f *fakeAPIKeyRepo) Delete(_ context.Context, id string) error {
	delete(f.byID, id)
	return nil
}
func (f *fakeAPIKeyRepo) TouchLastUsed(_ context.Context, _ string, _ time.Time) error { return nil }
func (f *fakeAPIKeyRepo) MostRecentlyUsedByProvider(
	_ context.Context, _ model.Provider,
) (*model.APIKey, error) {
	return nil, nil
}
func (f *fakeAPIKeyRepo) ActiveProviders(_ context.Context) ([]model.Provider, error) { return nil, nil }

type fakeAuditRepo struct{ inserted []*model.AuditLog }

func (f *fakeAuditRepo) Insert(_ context.Context, l *model.AuditLog) error {
	f.inserted = append(f.inserted, l)
	return nil
}
func (f *fakeAuditRepo) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeAuditRepo) ListByUser(_ context.Context, _ string, _ int) ([]*model.AuditLog, error) {
	return nil, nil
}
func (f *fakeAuditRepo) Create(_ context.Context, l *model.AuditLog) error {
	f.inserted = append(f.inserted, l)
	return nil
}

func newTestProcess(t *testing.T) (*process.Context, *fakeAPIKeyRepo, *fakeAuditRepo) {
	t.Helper()
	box, err := vault.NewBox(bytes.Repeat([]byte{7}, 32), nil, 0)
	require.NoError(t, err)
	apiKeys := newFakeAPIKeyRepo()
	audit := &fakeAuditRepo{}
	cfg := config.Defaults()
	proc := &process.Context{
		Config: cfg,
		Box:    box,
		Store: &postgres.Store{
			APIKeys:   apiKeys,
			AuditLogs: audit,
		},
	}
	return proc, apiKeys, audit
}

func newAuthedRequest(t *testing.T, method, target string, body any, userID string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rc := &RequestContext{CallerUserID: userID}
	req = req.WithContext(WithRequestContext(req.Context(), rc))
	c.Request = req
	return c, w
}

func TestCreateAPIKeySucceeds(t *testing.T) {
	proc, apiKeys, audit := newTestProcess(t)
	c, w := newAuthedRequest(t, http.MethodPost, "/api-keys", createAPIKeyRequest{
		Provider: "OPENAI",
		Material: "sk-test-material",
	}, "user-1")

	createAPIKey(proc)(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, apiKeys.byID, 1)
	assert.Len(t, audit.inserted, 1)
	assert.Equal(t, model.AuditAPIKeyCreated, audit.inserted[0].Action)

	var resp apiKeyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "OPENAI", resp.Provider)
	assert.NotEmpty(t, resp.DisplayPrefix)
}

func TestCreateAPIKeyRejectsUnknownProvider(t *testing.T) {
	proc, _, _ := newTestProcess(t)
	c, w := newAuthedRequest(t, http.MethodPost, "/api-keys", createAPIKeyRequest{
		Provider: "NOT_A_PROVIDER",
		Material: "sk-test",
	}, "user-1")

	createAPIKey(proc)(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAPIKeyNotFoundHidesOwnershipMismatch(t *testing.T) {
	proc, apiKeys, _ := newTestProcess(t)
	apiKeys.byID["key-owned-by-other"] = &model.APIKey{ID: "key-owned-by-other", OwnerUserID: "someone-else"}

	c, w := newAuthedRequest(t, http.MethodGet, "/api-keys/key-owned-by-other", nil, "user-1")
	c.Params = gin.Params{{Key: "id", Value: "key-owned-by-other"}}

	getAPIKey(proc)(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateAPIKeyAppliesPartialFields(t *testing.T) {
	proc, apiKeys, audit := newTestProcess(t)
	apiKeys.byID["key-1"] = &model.APIKey{ID: "key-1", OwnerUserID: "user-1", RatePerMinute: 60, Active: true}

	c, w := newAuthedRequest(t, http.MethodPatch, "/api-keys/key-1", updateAPIKeyRequest{
		RatePerMinute: intPtr(120),
	}, "user-1")
	c.Params = gin.Params{{Key: "id", Value: "key-1"}}

	updateAPIKey(proc)(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 120, apiKeys.byID["key-1"].RatePerMinute)
	assert.True(t, apiKeys.byID["key-1"].Active, "unspecified fields are left untouched")
	assert.Len(t, audit.inserted, 1)
}

func TestDeleteAPIKeyRemovesRecord(t *testing.T) {
	proc, apiKeys, audit := newTestProcess(t)
	apiKeys.byID["key-1"] = &model.APIKey{ID: "key-1", OwnerUserID: "user-1"}

	c, w := newAuthedRequest(t, http.MethodDelete, "/api-keys/key-1", nil, "user-1")
	c.Params = gin.Params{{Key: "id", Value: "key-1"}}

	deleteAPIKey(proc)(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, w.Code)
	_, exists := apiKeys.byID["key-1"]
	assert.False(t, exists)
	assert.Len(t, audit.inserted, 1)
}

func TestRevealAPIKeyDecryptsStoredMaterial(t *testing.T) {
	proc, apiKeys, audit := newTestProcess(t)
	encrypted, err := proc.Box.Encrypt([]byte("sk-live-secret"))
	require.NoError(t, err)
	apiKeys.byID["key-1"] = &model.APIKey{ID: "key-1", OwnerUserID: "user-1", EncryptedMaterial: encrypted}

	c, w := newAuthedRequest(t, http.MethodPost, "/api-keys/key-1/reveal", nil, "user-1")
	c.Params = gin.Params{{Key: "id", Value: "key-1"}}

	revealAPIKey(proc)(c)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "sk-live-secret", resp["material"])
	assert.Equal(t, model.AuditAPIKeyRevealed, audit.inserted[len(audit.inserted)-1].Action)
}

func intPtr(n int) *int { return &n }

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feen-dev/feen-gateway/internal/model"
	"github.com/feen-dev/feen-gateway/internal/router"
)

type fakeKeys struct{}

func (fakeKeys) Reveal(_ context.Context, apiKeyID string) (string, error) {
	return "plain-" + apiKeyID, nil
}

func TestProxy_FirstCandidateSucceeds(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer plain-key_1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"usage":{"prompt_tokens":10,"completion_tokens":20,"total_tokens":30}}`))
	}))
	defer upstream.Close()

	tr := New(fakeKeys{}, "http://self")
	candidates := []router.Candidate{
		{APIKey: &model.APIKey{ID: "key_1"}, Provider: model.ProviderOpenAI, BaseURL: upstream.URL},
	}

	w := httptest.NewRecorder()
	outcome, err := tr.Proxy(context.Background(), w, http.MethodPost, "v1/chat/completions", http.Header{}, nil, candidates)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, outcome.StatusCode)
	require.NotNil(t, outcome.Usage.TotalTokens)
	assert.EqualValues(t, 30, *outcome.Usage.TotalTokens)
	assert.Equal(t, "OPENAI", w.Header().Get("X-Feen-Provider"))
}

func TestProxy_FallsThroughOn5xx(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	succeeding := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`ok`))
	}))
	defer succeeding.Close()

	tr := New(fakeKeys{}, "http://self")
	candidates := []router.Candidate{
		{APIKey: &model.APIKey{ID: "key_1"}, Provider: model.ProviderOpenAI, BaseURL: failing.URL},
		{APIKey: &model.APIKey{ID: "key_2"}, Provider: model.ProviderTogether, BaseURL: succeeding.URL},
	}

	w := httptest.NewRecorder()
	outcome, err := tr.Proxy(context.Background(), w, http.MethodGet, "v1/models", http.Header{}, nil, candidates)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, outcome.StatusCode)
	assert.Equal(t, model.ProviderTogether, outcome.Provider)
}

func TestProxy_4xxCommitsImmediately(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer upstream.Close()

	tr := New(fakeKeys{}, "http://self")
	candidates := []router.Candidate{
		{APIKey: &model.APIKey{ID: "key_1"}, Provider: model.ProviderOpenAI, BaseURL: upstream.URL},
	}
	w := httptest.NewRecorder()
	outcome, err := tr.Proxy(context.Background(), w, http.MethodPost, "v1/chat/completions", http.Header{}, nil, candidates)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, outcome.StatusCode)
}

func TestProxy_AllCandidatesFail_Returns502(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	tr := New(fakeKeys{}, "http://self")
	candidates := []router.Candidate{
		{APIKey: &model.APIKey{ID: "key_1"}, Provider: model.ProviderOpenAI, BaseURL: failing.URL},
	}
	w := httptest.NewRecorder()
	outcome, err := tr.Proxy(context.Background(), w, http.MethodGet, "v1/models", http.Header{}, nil, candidates)
	require.NoError(t, err)
	assert.True(t, outcome.Exhausted)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestProxy_ClientDisconnectRecordsStatus499(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	tr := New(fakeKeys{}, "http://self")
	candidates := []router.Candidate{
		{APIKey: &model.APIKey{ID: "key_1"}, Provider: model.ProviderOpenAI, BaseURL: upstream.URL},
		{APIKey: &model.APIKey{ID: "key_2"}, Provider: model.ProviderTogether, BaseURL: upstream.URL},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := httptest.NewRecorder()
	outcome, err := tr.Proxy(ctx, w, http.MethodGet, "v1/models", http.Header{}, nil, candidates)
	require.NoError(t, err)
	assert.Equal(t, 499, outcome.StatusCode)
	assert.False(t, outcome.Exhausted)
}

func TestExtractUsage_InputOutputShape(t *testing.T) {
	u := extractUsage([]byte(`{"usage":{"input_tokens":5,"output_tokens":7}}`))
	require.NotNil(t, u.TotalTokens)
	assert.EqualValues(t, 12, *u.TotalTokens)
}

func TestExtractUsage_NonJSON_ReturnsEmpty(t *testing.T) {
	u := extractUsage([]byte("not json"))
	assert.Nil(t, u.TotalTokens)
}

package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feen-dev/feen-gateway/internal/config"
	"github.com/feen-dev/feen-gateway/internal/model"
)

type fakeLatency struct{ values map[model.Provider]float64 }

func (f fakeLatency) Latency(_ context.Context, p model.Provider) (float64, bool) {
	v, ok := f.values[p]
	return v, ok
}

func TestSelect_NoPreferredModel_DirectKeyFirst(t *testing.T) {
	registry := NewRegistry(&config.ProvidersConfig{})
	r := New(DefaultModelTable(), registry, nil)

	keys := []*model.APIKey{
		{ID: "key_openai", Provider: model.ProviderOpenAI, CreatedAt: time.Unix(1, 0)},
		{ID: "key_together", Provider: model.ProviderTogether, CreatedAt: time.Unix(2, 0)},
	}
	candidates := r.Select(context.Background(), "unknown-model", "key_together", keys)
	require.Len(t, candidates, 2)
	assert.Equal(t, "key_together", candidates[0].APIKey.ID)
	assert.Equal(t, "key_openai", candidates[1].APIKey.ID)
}

func TestSelect_PreferredModel_SortsByLatency(t *testing.T) {
	registry := NewRegistry(&config.ProvidersConfig{})
	latency := fakeLatency{values: map[model.Provider]float64{
		model.ProviderTogether: 50,
	}}
	r := New(DefaultModelTable(), registry, latency)

	keys := []*model.APIKey{
		{ID: "key_openai", Provider: model.ProviderOpenAI, CreatedAt: time.Unix(1, 0)},
		{ID: "key_groq", Provider: model.ProviderGroq, CreatedAt: time.Unix(2, 0)},
		{ID: "key_together", Provider: model.ProviderTogether, CreatedAt: time.Unix(3, 0)},
	}
	candidates := r.Select(context.Background(), "llama-3-8b-instruct", "key_openai", keys)
	require.Len(t, candidates, 3)
	assert.Equal(t, model.ProviderTogether, candidates[0].Provider, "cached latency promotes together first")
	assert.Equal(t, "key_groq", candidates[1].APIKey.ID, "groq has no latency sample, ranks after together but before direct promotion")
	assert.Equal(t, "key_openai", candidates[2].APIKey.ID, "direct key is non-preferred, follows preferred group")
}

func TestSelect_NoKeys_ReturnsEmpty(t *testing.T) {
	registry := NewRegistry(&config.ProvidersConfig{})
	r := New(DefaultModelTable(), registry, nil)
	candidates := r.Select(context.Background(), "gpt-4o", "", nil)
	assert.Empty(t, candidates)
}

func TestSelect_UnknownProvider_Skipped(t *testing.T) {
	registry := NewRegistry(&config.ProvidersConfig{}) // no azure override configured
	r := New(DefaultModelTable(), registry, nil)
	keys := []*model.APIKey{
		{ID: "key_azure", Provider: model.ProviderAzureOpenAI, CreatedAt: time.Unix(1, 0)},
	}
	candidates := r.Select(context.Background(), "gpt-4o", "key_azure", keys)
	assert.Empty(t, candidates, "azure key without a configured base URL yields no candidate")
}

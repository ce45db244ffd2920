// Package router implements the candidate selection algorithm (C6): given
// a requested model and the set of API keys a token's owner holds, it
// produces an ordered list of (api_key, provider, base_url) candidates for
// the proxy transport to try in order.
package router

import (
	"context"
	"math"
	"sort"

	"github.com/feen-dev/feen-gateway/internal/config"
	"github.com/feen-dev/feen-gateway/internal/model"
)

// Candidate is one entry in the ordered list the transport will try.
type Candidate struct {
	APIKey   *model.APIKey
	Provider model.Provider
	BaseURL  string
}

// LatencyLookup resolves the cached latency sample for a provider, in
// milliseconds. ok is false when no sample is cached (treated as +Inf).
type LatencyLookup interface {
	Latency(ctx context.Context, provider model.Provider) (ms float64, ok bool)
}

// ModelTable maps a model name to its preferred-provider list, in priority
// order. Populated at boot from a static table; unknown models simply miss.
type ModelTable map[string][]model.Provider

// Registry resolves a provider tag to its base URL, honoring config
// overrides for AZURE_OPENAI and CUSTOM.
type Registry struct {
	baseURLs map[model.Provider]string
}

func NewRegistry(cfg *config.ProvidersConfig) *Registry {
	r := &Registry{baseURLs: map[model.Provider]string{
		model.ProviderOpenAI:      "https://api.openai.com",
		model.ProviderAnthropic:   "https://api.anthropic.com",
		model.ProviderGoogle:      "https://generativelanguage.googleapis.com",
		model.ProviderCohere:      "https://api.cohere.ai",
		model.ProviderMistral:     "https://api.mistral.ai",
		model.ProviderGroq:        "https://api.groq.com/openai",
		model.ProviderTogether:    "https://api.together.xyz",
		model.ProviderReplicate:   "https://api.replicate.com",
		model.ProviderHuggingFace: "https://api-inference.huggingface.co",
		model.ProviderBytez:       "https://api.bytez.ai/v2",
	}}
	if cfg != nil {
		if cfg.AzureOpenAIBaseURL != "" {
			r.baseURLs[model.ProviderAzureOpenAI] = cfg.AzureOpenAIBaseURL
		}
		if cfg.CustomBaseURL != "" {
			r.baseURLs[model.ProviderCustom] = cfg.CustomBaseURL
		}
	}
	return r
}

func (r *Registry) BaseURL(provider model.Provider) (string, bool) {
	u, ok := r.baseURLs[provider]
	return u, ok
}

// DefaultModelTable is the static model→preferred-provider table. Entries
// are illustrative of the routing scheme, not an exhaustive model catalog.
func DefaultModelTable() ModelTable {
	return ModelTable{
		"gpt-4o":                {model.ProviderOpenAI, model.ProviderAzureOpenAI},
		"gpt-4o-mini":           {model.ProviderOpenAI, model.ProviderAzureOpenAI},
		"claude-3-5-sonnet":     {model.ProviderAnthropic},
		"claude-3-haiku":        {model.ProviderAnthropic},
		"gemini-1.5-pro":        {model.ProviderGoogle},
		"llama-3-8b-instruct":   {model.ProviderTogether, model.ProviderGroq, model.ProviderHuggingFace},
		"llama-3-70b-instruct":  {model.ProviderTogether, model.ProviderGroq},
		"mixtral-8x7b-instruct": {model.ProviderMistral, model.ProviderTogether, model.ProviderGroq},
		"command-r-plus":        {model.ProviderCohere},
	}
}

// Router produces ordered candidate lists per spec.md §4.5.
type Router struct {
	table    ModelTable
	registry *Registry
	latency  LatencyLookup
}

func New(table ModelTable, registry *Registry, latency LatencyLookup) *Router {
	return &Router{table: table, registry: registry, latency: latency}
}

// Select implements the three-step algorithm. directKeyID is the API key
// the shared token directly references; keys is the full set of active
// keys the token's owner holds, ordered by creation time (oldest first).
func (r *Router) Select(ctx context.Context, requestedModel string, directKeyID string, keys []*model.APIKey) []Candidate {
	if len(keys) == 0 {
		return nil
	}

	byProvider := make(map[model.Provider][]*model.APIKey)
	for _, k := range keys {
		byProvider[k.Provider] = append(byProvider[k.Provider], k)
	}

	var preferred []model.Provider
	if requestedModel != "" {
		if list, ok := r.table[requestedModel]; ok {
			for _, p := range list {
				if _, has := byProvider[p]; has {
					preferred = append(preferred, p)
				}
			}
		}
	}

	var direct *model.APIKey
	for _, k := range keys {
		if k.ID == directKeyID {
			direct = k
			break
		}
	}

	var ordered []*model.APIKey
	if len(preferred) == 0 {
		if direct != nil {
			ordered = append(ordered, direct)
		}
		ordered = append(ordered, remaining(keys, ordered)...)
	} else {
		sortByLatency(ctx, preferred, r.latency)
		used := map[string]bool{}
		for _, p := range preferred {
			for _, k := range byProvider[p] {
				if !used[k.ID] {
					ordered = append(ordered, k)
					used[k.ID] = true
				}
			}
		}
		// The directly referenced key is promoted above the remaining
		// non-preferred candidates, but never ahead of the preferred group.
		if direct != nil && !used[direct.ID] {
			ordered = append(ordered, direct)
			used[direct.ID] = true
		}
		for _, k := range keys {
			if !used[k.ID] {
				ordered = append(ordered, k)
				used[k.ID] = true
			}
		}
	}

	candidates := make([]Candidate, 0, len(ordered))
	for _, k := range ordered {
		baseURL, ok := r.registry.BaseURL(k.Provider)
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{APIKey: k, Provider: k.Provider, BaseURL: baseURL})
	}
	return candidates
}

// remaining returns keys not already present in head, in creation order.
func remaining(keys []*model.APIKey, head []*model.APIKey) []*model.APIKey {
	used := map[string]bool{}
	for _, k := range head {
		used[k.ID] = true
	}
	var out []*model.APIKey
	for _, k := range keys {
		if !used[k.ID] {
			out = append(out, k)
		}
	}
	return out
}

func sortByLatency(ctx context.Context, providers []model.Provider, latency LatencyLookup) {
	if latency == nil {
		return
	}
	sample := make(map[model.Provider]float64, len(providers))
	for _, p := range providers {
		if ms, ok := latency.Latency(ctx, p); ok {
			sample[p] = ms
		} else {
			sample[p] = math.Inf(1)
		}
	}
	sort.SliceStable(providers, func(i, j int) bool {
		return sample[providers[i]] < sample[providers[j]]
	})
}

package process

import (
	"context"
	"errors"
	"time"

	"github.com/go-resty/resty/v2"
	retry "github.com/sethvargo/go-retry"

	"github.com/feen-dev/feen-gateway/internal/model"
	"github.com/feen-dev/feen-gateway/internal/router"
	"github.com/feen-dev/feen-gateway/internal/vault"
)

const probeTimeout = 5 * time.Second
const probeRetries = 2
const probeBackoffBase = 100 * time.Millisecond

var errProbeServerError = errors.New("process: provider returned a server error")

// probeRequestByProvider holds the minimal request body issued to sample
// latency for each provider's native chat/messages endpoint. Kept tiny
// (max_tokens=1) so the probe itself barely registers against quota.
var probeRequestByProvider = map[model.Provider]probeRequest{
	model.ProviderOpenAI:      {path: "v1/chat/completions", body: `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"ping"}],"max_tokens":1}`},
	model.ProviderAzureOpenAI: {path: "v1/chat/completions", body: `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"ping"}],"max_tokens":1}`},
	model.ProviderGroq:        {path: "v1/chat/completions", body: `{"model":"llama-3-8b-instruct","messages":[{"role":"user","content":"ping"}],"max_tokens":1}`},
	model.ProviderTogether:    {path: "v1/chat/completions", body: `{"model":"llama-3-8b-instruct","messages":[{"role":"user","content":"ping"}],"max_tokens":1}`},
	model.ProviderMistral:     {path: "v1/chat/completions", body: `{"model":"mixtral-8x7b-instruct","messages":[{"role":"user","content":"ping"}],"max_tokens":1}`},
	model.ProviderCohere:      {path: "v1/chat", body: `{"model":"command-r-plus","message":"ping","max_tokens":1}`},
	model.ProviderAnthropic:   {path: "v1/messages", body: `{"model":"claude-3-haiku","messages":[{"role":"user","content":"ping"}],"max_tokens":1}`},
}

type probeRequest struct {
	path string
	body string
}

// Prober issues a minimal upstream request to sample round-trip latency,
// satisfying scheduler.Prober. It decrypts the key on demand and discards
// the response body, treating any 2xx/4xx reply as a successful sample
// (a provider rejecting a deliberately tiny request still answered).
type Prober struct {
	client   *resty.Client
	registry *router.Registry
	box      *vault.Box
}

func NewProber(registry *router.Registry, box *vault.Box) *Prober {
	return &Prober{client: resty.New().SetTimeout(probeTimeout), registry: registry, box: box}
}

func (p *Prober) Probe(ctx context.Context, apiKey *model.APIKey) (int64, bool) {
	baseURL, ok := p.registry.BaseURL(apiKey.Provider)
	if !ok {
		return 0, false
	}
	spec, ok := probeRequestByProvider[apiKey.Provider]
	if !ok {
		return 0, false
	}
	plaintext, err := p.box.Decrypt(apiKey.EncryptedMaterial)
	if err != nil {
		return 0, false
	}

	start := time.Now()
	ok = p.probeWithRetry(ctx, apiKey.Provider, baseURL, spec, string(plaintext))
	if !ok {
		return 0, false
	}
	return time.Since(start).Milliseconds(), true
}

// probeWithRetry retries a transient send failure (connection reset, 5xx)
// a couple of times with jittered exponential backoff, mirroring the
// teacher's LLM-call retry loop; a non-retryable outcome (or exhausted
// retries) surfaces as a plain failed sample rather than an error, since a
// probe exists only to inform routing, not to be acted on by a caller.
func (p *Prober) probeWithRetry(
	ctx context.Context, provider model.Provider, baseURL string, spec probeRequest, bearer string,
) bool {
	backoff := retry.WithMaxRetries(probeRetries, retry.WithJitter(20*time.Millisecond, retry.NewExponential(probeBackoffBase)))
	succeeded := false
	_ = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req := p.client.R().SetContext(ctx).SetBody(spec.body).SetHeader("Content-Type", "application/json")
		if provider == model.ProviderAnthropic {
			req.SetHeader("x-api-key", bearer).SetHeader("anthropic-version", "2023-06-01")
		} else {
			req.SetHeader("Authorization", "Bearer "+bearer)
		}
		resp, err := req.Post(baseURL + "/" + spec.path)
		if err != nil {
			return retry.RetryableError(err)
		}
		if resp.StatusCode() >= 500 {
			return retry.RetryableError(errProbeServerError)
		}
		succeeded = true
		return nil
	})
	return succeeded
}

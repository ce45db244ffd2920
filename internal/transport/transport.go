// Package transport implements the proxy transport (C7): candidate
// iteration, header rewriting, streaming response relay, and bounded
// token-usage extraction from the response body.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/feen-dev/feen-gateway/internal/logging"
	"github.com/feen-dev/feen-gateway/internal/model"
	"github.com/feen-dev/feen-gateway/internal/router"
)

const (
	headerTimeout    = 30 * time.Second
	usageBufferLimit = 1 << 20 // 1 MiB

	// statusClientClosedRequest is nginx's de facto 499, used per spec.md
	// §5 to record a client disconnect distinctly from a real upstream
	// failure. Not in net/http's status const list since it was never
	// standardized.
	statusClientClosedRequest = 499
)

var (
	upstreamLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feen_upstream_request_duration_seconds",
		Help:    "Latency of upstream provider calls, by provider and status class.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"provider", "status_class"})

	upstreamFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feen_upstream_failures_total",
		Help: "Count of upstream candidate attempts that failed and triggered fallback.",
	}, []string{"provider"})
)

func init() {
	prometheus.MustRegister(upstreamLatency, upstreamFailures)
}

// headerRewriter injects the provider's auth headers into an outbound
// request. Table grounded on spec.md §6's fixed provider contracts.
type headerRewriter func(req *resty.Request, plainKey string)

var headerRewriteTable = map[model.Provider]headerRewriter{
	model.ProviderOpenAI: func(req *resty.Request, key string) {
		req.SetHeader("Authorization", "Bearer "+key)
	},
	model.ProviderAnthropic: func(req *resty.Request, key string) {
		req.SetHeader("x-api-key", key)
		req.SetHeader("anthropic-version", "2023-06-01")
	},
	model.ProviderGoogle: func(req *resty.Request, key string) {
		req.SetHeader("Authorization", "Bearer "+key)
	},
	model.ProviderCohere: func(req *resty.Request, key string) {
		req.SetHeader("Authorization", "Bearer "+key)
	},
	model.ProviderMistral: func(req *resty.Request, key string) {
		req.SetHeader("Authorization", "Bearer "+key)
	},
	model.ProviderGroq: func(req *resty.Request, key string) {
		req.SetHeader("Authorization", "Bearer "+key)
	},
	model.ProviderTogether: func(req *resty.Request, key string) {
		req.SetHeader("Authorization", "Bearer "+key)
	},
	model.ProviderReplicate: func(req *resty.Request, key string) {
		req.SetHeader("Authorization", "Bearer "+key)
	},
	model.ProviderHuggingFace: func(req *resty.Request, key string) {
		req.SetHeader("Authorization", "Bearer "+key)
	},
	model.ProviderBytez: func(req *resty.Request, key string) {
		req.SetHeader("Authorization", "Bearer "+key)
	},
	model.ProviderAzureOpenAI: func(req *resty.Request, key string) {
		req.SetHeader("Authorization", "Bearer "+key)
	},
	model.ProviderCustom: func(req *resty.Request, key string) {
		req.SetHeader("Authorization", "Bearer "+key)
	},
}

// KeyMaterial resolves a candidate's plaintext key material at call time,
// keeping the vault decrypt off the router/transport's critical types.
type KeyMaterial interface {
	Reveal(ctx context.Context, apiKeyID string) (string, error)
}

// Usage is the token-usage shape recognized in the response body.
type Usage struct {
	RequestTokens  *int64
	ResponseTokens *int64
	TotalTokens    *int64
}

// Outcome describes what happened after the candidate loop, consumed by
// the usage recorder (C8) and the audit trail.
type Outcome struct {
	StatusCode int
	Provider   model.Provider
	APIKeyID   string
	LatencyMS  int64
	Usage      Usage
	Exhausted  bool
}

// Transport iterates candidates in order, issuing the upstream call with
// the resty client, and relays the first completed response to w.
type Transport struct {
	client  *resty.Client
	keys    KeyMaterial
	selfURL string
}

func New(keys KeyMaterial, selfBaseURL string) *Transport {
	client := resty.New().SetDoNotParseResponse(true)
	// ResponseHeaderTimeout bounds only the wait for the response's status
	// line and headers, per spec.md §4.6; body streaming afterward is
	// governed solely by the caller's own request context.
	if t, ok := client.GetClient().Transport.(*http.Transport); ok {
		t.ResponseHeaderTimeout = headerTimeout
	} else {
		client.GetClient().Transport = &http.Transport{ResponseHeaderTimeout: headerTimeout}
	}
	return &Transport{client: client, keys: keys, selfURL: selfBaseURL}
}

// Proxy runs the candidate loop from spec.md §4.6 and writes the winning
// response (or a 502 exhaustion body) to w.
func (t *Transport) Proxy(
	ctx context.Context,
	w http.ResponseWriter,
	method, forwardedPath string,
	headers http.Header,
	body []byte,
	candidates []router.Candidate,
) (*Outcome, error) {
	log := logging.FromContext(ctx)

	for _, cand := range candidates {
		if ctx.Err() != nil {
			// Client already disconnected: don't burn the remaining
			// candidates retrying a response nobody will receive.
			return &Outcome{StatusCode: statusClientClosedRequest, Provider: cand.Provider, APIKeyID: cand.APIKey.ID}, nil
		}

		outcome, resp, err := t.attempt(ctx, method, forwardedPath, headers, body, cand)
		if errors.Is(err, context.Canceled) {
			if resp != nil {
				_ = resp.RawBody().Close()
			}
			outcome.StatusCode = statusClientClosedRequest
			return outcome, nil
		}
		statusClass := "5xx"
		if err == nil && resp != nil {
			statusClass = fmt.Sprintf("%dxx", resp.StatusCode()/100)
		}
		upstreamLatency.WithLabelValues(string(cand.Provider), statusClass).
			Observe(float64(outcome.LatencyMS) / 1000.0)

		if err != nil || (resp != nil && resp.StatusCode() >= 500) {
			upstreamFailures.WithLabelValues(string(cand.Provider)).Inc()
			log.Warn("upstream candidate failed, trying next", "provider", cand.Provider, "error", err)
			if resp != nil {
				_ = resp.RawBody().Close()
			}
			continue
		}

		commitHeaders(w, resp, cand.Provider, outcome.LatencyMS)
		w.WriteHeader(resp.StatusCode())
		outcome.StatusCode = resp.StatusCode()
		outcome.Usage = t.relayAndExtractUsage(w, resp.RawBody(), log)
		return outcome, nil
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte(`{"error":"All available providers failed"}`))
	return &Outcome{StatusCode: http.StatusBadGateway, Exhausted: true}, nil
}

// relayAndExtractUsage streams body to w without buffering the whole
// response, while feeding a bounded prefix (usageBufferLimit) to the
// token-usage extractor via a capped tee.
func (t *Transport) relayAndExtractUsage(w http.ResponseWriter, body io.ReadCloser, log logging.Logger) Usage {
	defer body.Close()
	var prefix bytes.Buffer
	tee := io.TeeReader(body, &boundedWriter{buf: &prefix, limit: usageBufferLimit})
	if _, err := io.Copy(w, tee); err != nil {
		log.Warn("failed streaming upstream body to client", "error", err)
	}
	return extractUsage(prefix.Bytes())
}

// boundedWriter caps how many bytes get mirrored into buf; excess bytes
// are silently dropped, never erroring the underlying copy.
type boundedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (b *boundedWriter) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining > 0 {
		if remaining > len(p) {
			remaining = len(p)
		}
		b.buf.Write(p[:remaining])
	}
	return len(p), nil
}

func (t *Transport) attempt(
	ctx context.Context,
	method, forwardedPath string,
	headers http.Header,
	body []byte,
	cand router.Candidate,
) (*Outcome, *resty.Response, error) {
	plainKey, err := t.keys.Reveal(ctx, cand.APIKey.ID)
	if err != nil {
		return &Outcome{Provider: cand.Provider, APIKeyID: cand.APIKey.ID}, nil, fmt.Errorf("reveal key material: %w", err)
	}

	req := t.client.R().SetContext(ctx)
	for k, values := range headers {
		for _, v := range values {
			req.SetHeader(k, v)
		}
	}
	if rewrite, ok := headerRewriteTable[cand.Provider]; ok {
		rewrite(req, plainKey)
	}
	if method != http.MethodGet && method != http.MethodHead {
		req.SetBody(body)
	}

	url := cand.BaseURL + "/" + forwardedPath
	start := time.Now()
	resp, err := doMethod(req, method, url)
	latency := time.Since(start)

	outcome := &Outcome{Provider: cand.Provider, APIKeyID: cand.APIKey.ID, LatencyMS: latency.Milliseconds()}
	return outcome, resp, err
}

func doMethod(req *resty.Request, method, url string) (*resty.Response, error) {
	switch method {
	case http.MethodGet:
		return req.Get(url)
	case http.MethodPost:
		return req.Post(url)
	case http.MethodPut:
		return req.Put(url)
	case http.MethodPatch:
		return req.Patch(url)
	case http.MethodDelete:
		return req.Delete(url)
	case http.MethodHead:
		return req.Head(url)
	default:
		return req.Execute(method, url)
	}
}

func commitHeaders(w http.ResponseWriter, resp *resty.Response, provider model.Provider, latencyMS int64) {
	for k, values := range resp.Header() {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Feen-Latency", fmt.Sprintf("%d", latencyMS))
	w.Header().Set("X-Feen-Provider", string(provider))
}

// extractUsage recognizes the two documented usage shapes from a bounded
// prefix of the body; content beyond usageBufferLimit or non-JSON bodies
// leave the fields null without failing the response.
func extractUsage(body []byte) Usage {
	if len(body) == 0 {
		return Usage{}
	}
	bounded := body
	if len(bounded) > usageBufferLimit {
		bounded = bounded[:usageBufferLimit]
	}

	var shape struct {
		Usage struct {
			PromptTokens     *int64 `json:"prompt_tokens"`
			CompletionTokens *int64 `json:"completion_tokens"`
			TotalTokens      *int64 `json:"total_tokens"`
			InputTokens      *int64 `json:"input_tokens"`
			OutputTokens     *int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(bounded, &shape); err != nil {
		return Usage{}
	}

	u := Usage{}
	switch {
	case shape.Usage.PromptTokens != nil || shape.Usage.CompletionTokens != nil:
		u.RequestTokens = shape.Usage.PromptTokens
		u.ResponseTokens = shape.Usage.CompletionTokens
		u.TotalTokens = sumOrTotal(shape.Usage.TotalTokens, shape.Usage.PromptTokens, shape.Usage.CompletionTokens)
	case shape.Usage.InputTokens != nil || shape.Usage.OutputTokens != nil:
		u.RequestTokens = shape.Usage.InputTokens
		u.ResponseTokens = shape.Usage.OutputTokens
		u.TotalTokens = sumOrTotal(nil, shape.Usage.InputTokens, shape.Usage.OutputTokens)
	}
	return u
}

func sumOrTotal(total, a, b *int64) *int64 {
	if total != nil {
		return total
	}
	if a == nil && b == nil {
		return nil
	}
	var sum int64
	if a != nil {
		sum += *a
	}
	if b != nil {
		sum += *b
	}
	return &sum
}

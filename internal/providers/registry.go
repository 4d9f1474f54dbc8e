package providers

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// LocalProviderID is the fallback for models no hosted provider claims.
const LocalProviderID = "local"

// RegistryConfig wires environment-level provider settings.
type RegistryConfig struct {
	// APIKeys maps provider id to its server-side key (may be empty).
	APIKeys map[string]string
	// HostedKeys are rotated for users without their own OpenAI key.
	HostedKeys []string
	// HostedModels are the only models served on hosted keys.
	HostedModels []string
	// OllamaURL is the local OpenAI-compatible inference endpoint.
	OllamaURL string
	// AllowServerKeys opts in to serving any model on the server's
	// per-provider keys. Off by default: outside the hosted allow-list a
	// request must carry its own key.
	AllowServerKeys bool
	// Pricing looks up per-million-token prices for a model.
	Pricing PricingFunc
}

// Registry routes models to providers and enforces the API key policy.
type Registry struct {
	providers map[string]Provider
	models    map[string]string // known model -> provider id, lowercase
	patterns  []modelPattern
	cfg       RegistryConfig

	resolveCache *cache.Cache
	hostedIdx    atomic.Uint64
	hostedLimit  *rate.Limiter

	localMu     sync.RWMutex
	localModels map[string]struct{}
}

type modelPattern struct {
	re       *regexp.Regexp
	provider string
}

// NewRegistry builds the provider registry with all supported adapters.
func NewRegistry(cfg RegistryConfig) *Registry {
	r := &Registry{
		providers:    make(map[string]Provider),
		models:       make(map[string]string),
		cfg:          cfg,
		resolveCache: cache.New(10*time.Minute, 30*time.Minute),
		hostedLimit:  rate.NewLimiter(rate.Limit(20), 40),
	}

	r.register(NewOpenAICompatible("openai", "", cfg.Pricing))
	r.register(NewAnthropic(cfg.Pricing))
	r.register(NewGoogle(cfg.Pricing))
	r.register(NewOpenAICompatible("deepseek", "https://api.deepseek.com/v1", cfg.Pricing))
	r.register(NewOpenAICompatible("xai", "https://api.x.ai/v1", cfg.Pricing))
	r.register(NewOpenAICompatible("groq", "https://api.groq.com/openai/v1", cfg.Pricing))
	r.register(NewOpenAICompatible("cerebras", "https://api.cerebras.ai/v1", cfg.Pricing))
	r.register(NewOpenAICompatible(LocalProviderID, cfg.OllamaURL, cfg.Pricing))

	for model, provider := range knownModels {
		r.models[model] = provider
	}
	r.patterns = defaultPatterns()

	return r
}

func (r *Registry) register(p Provider) {
	r.providers[p.ID()] = p
}

// Get returns a provider by id.
func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.providers[strings.ToLower(id)]
	return p, ok
}

// FromModel resolves the provider serving a model. Resolution never fails:
// exact match first, then name patterns, then the local provider with a
// warning.
func (r *Registry) FromModel(model string) Provider {
	key := strings.ToLower(strings.TrimSpace(model))

	if id, found := r.resolveCache.Get(key); found {
		return r.providers[id.(string)]
	}

	id, ok := r.models[key]
	if !ok && r.isLocalModel(key) {
		id, ok = LocalProviderID, true
	}
	if !ok {
		for _, p := range r.patterns {
			if p.re.MatchString(key) {
				id = p.provider
				ok = true
				break
			}
		}
	}
	if !ok {
		slog.Warn("no provider claims model, assuming local inference", "model", model)
		id = LocalProviderID
	}

	r.resolveCache.SetDefault(key, id)
	return r.providers[id]
}

// ResolveAPIKey enforces the key policy: a caller-supplied key always wins;
// server-rotated keys serve only the hosted provider's allow-listed models;
// everything else requires the caller's own key.
func (r *Registry) ResolveAPIKey(ctx context.Context, providerID, model, userKey string) (string, error) {
	if userKey != "" {
		return userKey, nil
	}
	if providerID == LocalProviderID {
		return "", nil
	}

	if providerID == "openai" && len(r.cfg.HostedKeys) > 0 && r.isHostedModel(model) {
		if err := r.hostedLimit.Wait(ctx); err != nil {
			return "", err
		}
		idx := r.hostedIdx.Add(1)
		return r.cfg.HostedKeys[int(idx)%len(r.cfg.HostedKeys)], nil
	}

	if r.cfg.AllowServerKeys {
		if key := r.cfg.APIKeys[providerID]; key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("no API key available for provider %s (model %s): supply one in the block config", providerID, model)
}

// CostBreakdown is a priced token count with the rates that produced it.
type CostBreakdown struct {
	Input   float64      `json:"input"`
	Output  float64      `json:"output"`
	Total   float64      `json:"total"`
	Pricing ModelPricing `json:"pricing"`
}

// CalculateCost prices token usage for a model, rounded to 6 decimal places.
// The cached-input rate applies only when requested and the model defines one.
func (r *Registry) CalculateCost(model string, promptTokens, completionTokens int, useCachedInput bool) CostBreakdown {
	var rates ModelPricing
	if r.cfg.Pricing != nil {
		rates, _ = r.cfg.Pricing(model)
	}
	inputRate := rates.Input
	if useCachedInput && rates.CachedInput > 0 {
		inputRate = rates.CachedInput
	}
	cost := computeCost(
		TokenUsage{Prompt: promptTokens, Completion: completionTokens},
		ModelPricing{Input: inputRate, Output: rates.Output},
	)
	return CostBreakdown{Input: cost.Input, Output: cost.Output, Total: cost.Total, Pricing: rates}
}

// RefreshLocalModels replaces the local model list with whatever the
// inference endpoint currently serves. The map is swapped wholesale, so
// concurrent readers only ever see a complete list.
func (r *Registry) RefreshLocalModels(ctx context.Context) error {
	if r.cfg.OllamaURL == "" {
		return nil
	}
	config := openai.DefaultConfig("")
	config.BaseURL = r.cfg.OllamaURL
	list, err := openai.NewClientWithConfig(config).ListModels(ctx)
	if err != nil {
		return fmt.Errorf("listing local models: %w", err)
	}

	models := make(map[string]struct{}, len(list.Models))
	for _, m := range list.Models {
		models[strings.ToLower(m.ID)] = struct{}{}
	}

	r.localMu.Lock()
	r.localModels = models
	r.localMu.Unlock()
	r.resolveCache.Flush()
	return nil
}

// LocalModels returns the discovered local model ids, sorted order not
// guaranteed.
func (r *Registry) LocalModels() []string {
	r.localMu.RLock()
	defer r.localMu.RUnlock()
	out := make([]string, 0, len(r.localModels))
	for id := range r.localModels {
		out = append(out, id)
	}
	return out
}

func (r *Registry) isLocalModel(key string) bool {
	r.localMu.RLock()
	defer r.localMu.RUnlock()
	_, ok := r.localModels[key]
	return ok
}

func (r *Registry) isHostedModel(model string) bool {
	for _, m := range r.cfg.HostedModels {
		if strings.EqualFold(m, model) {
			return true
		}
	}
	return false
}

// knownModels is the exact-match routing table, lowercase.
var knownModels = map[string]string{
	"gpt-4o":                    "openai",
	"gpt-4o-mini":               "openai",
	"gpt-4.1":                   "openai",
	"gpt-4.1-mini":              "openai",
	"o3":                        "openai",
	"o4-mini":                   "openai",
	"claude-sonnet-4-20250514":  "anthropic",
	"claude-opus-4-20250514":    "anthropic",
	"claude-3-5-haiku-20241022": "anthropic",
	"gemini-2.5-pro":            "google",
	"gemini-2.5-flash":          "google",
	"deepseek-chat":             "deepseek",
	"deepseek-reasoner":         "deepseek",
	"grok-3":                    "xai",
	"grok-3-mini":               "xai",
	"llama-3.3-70b-versatile":   "groq",
	"llama3.1-8b":               "cerebras",
}

func defaultPatterns() []modelPattern {
	return []modelPattern{
		{regexp.MustCompile(`^gpt-`), "openai"},
		{regexp.MustCompile(`^o\d`), "openai"},
		{regexp.MustCompile(`^claude-`), "anthropic"},
		{regexp.MustCompile(`^gemini-`), "google"},
		{regexp.MustCompile(`^deepseek-`), "deepseek"},
		{regexp.MustCompile(`^grok-`), "xai"},
	}
}

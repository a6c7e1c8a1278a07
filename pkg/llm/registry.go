package llm

import (
	"github.com/xhad/datallama/internal/models"
)

const (
	BackendOpenRouter = "openrouter"
	BackendOllama     = "ollama"
)

// DefaultModelID is the catalog default when configuration does not name one.
const DefaultModelID = "google/gemini-2.0-flash-exp:free"

// Catalog is the built-in list of usable models, in display order.
var Catalog = []models.ModelDescriptor{
	{
		ID:                "google/gemini-2.0-flash-exp:free",
		DisplayName:       "Gemini 2.0 Flash",
		Description:       "Fast general-purpose model with a large context window",
		ProviderName:      "Google",
		MaxTokens:         8192,
		SupportsStreaming: true,
		Backend:           BackendOpenRouter,
	},
	{
		ID:                "meta-llama/llama-3.3-8b-instruct:free",
		DisplayName:       "Llama 3.3 8B Instruct",
		Description:       "Small instruction-tuned model, good for short analyses",
		ProviderName:      "Meta",
		MaxTokens:         4096,
		SupportsStreaming: true,
		Backend:           BackendOpenRouter,
	},
	{
		ID:                "deepseek/deepseek-chat-v3-0324:free",
		DisplayName:       "DeepSeek V3",
		Description:       "Strong reasoning and long-form business writing",
		ProviderName:      "DeepSeek",
		MaxTokens:         8192,
		SupportsStreaming: true,
		Backend:           BackendOpenRouter,
	},
	{
		ID:                "mistralai/mistral-7b-instruct:free",
		DisplayName:       "Mistral 7B Instruct",
		Description:       "Lightweight model with low latency",
		ProviderName:      "Mistral AI",
		MaxTokens:         4096,
		SupportsStreaming: true,
		Backend:           BackendOpenRouter,
	},
	{
		ID:                "qwen/qwen-2.5-72b-instruct:free",
		DisplayName:       "Qwen 2.5 72B Instruct",
		Description:       "Large multilingual model for detailed comparisons",
		ProviderName:      "Alibaba",
		MaxTokens:         8192,
		SupportsStreaming: true,
		Backend:           BackendOpenRouter,
	},
	{
		ID:                "ollama/llama3",
		DisplayName:       "Llama 3 (local)",
		Description:       "Local model served by Ollama, no API key required",
		ProviderName:      "Ollama",
		MaxTokens:         4096,
		SupportsStreaming: false,
		Backend:           BackendOllama,
	},
}

// Registry is an immutable catalog of model descriptors keyed by id.
type Registry struct {
	order     []models.ModelDescriptor
	byID      map[string]models.ModelDescriptor
	defaultID string
}

// NewRegistry builds a registry from descriptors. An unknown defaultID falls
// back to the first descriptor; an empty descriptor list uses Catalog.
func NewRegistry(defaultID string, descriptors ...models.ModelDescriptor) *Registry {
	if len(descriptors) == 0 {
		descriptors = Catalog
	}

	r := &Registry{
		order: make([]models.ModelDescriptor, 0, len(descriptors)),
		byID:  make(map[string]models.ModelDescriptor, len(descriptors)),
	}
	for _, d := range descriptors {
		if _, dup := r.byID[d.ID]; dup {
			continue
		}
		r.order = append(r.order, d)
		r.byID[d.ID] = d
	}

	r.defaultID = r.order[0].ID
	if _, ok := r.byID[defaultID]; ok {
		r.defaultID = defaultID
	}
	return r
}

// DefaultRegistry returns the built-in catalog with DefaultModelID as default.
func DefaultRegistry() *Registry {
	return NewRegistry(DefaultModelID, Catalog...)
}

// Resolve returns the descriptor for id, or the default descriptor when id is
// empty or unknown. It never fails.
func (r *Registry) Resolve(id string) models.ModelDescriptor {
	if d, ok := r.byID[id]; ok {
		return d
	}
	return r.byID[r.defaultID]
}

// Known reports whether id is in the catalog.
func (r *Registry) Known(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// Default returns the default descriptor.
func (r *Registry) Default() models.ModelDescriptor {
	return r.byID[r.defaultID]
}

// List returns the catalog in display order.
func (r *Registry) List() []models.ModelDescriptor {
	out := make([]models.ModelDescriptor, len(r.order))
	copy(out, r.order)
	return out
}

// Alternatives returns up to n catalog ids other than exclude.
func (r *Registry) Alternatives(exclude string, n int) []string {
	var ids []string
	for _, d := range r.order {
		if len(ids) >= n {
			break
		}
		if d.ID == exclude {
			continue
		}
		ids = append(ids, d.ID)
	}
	return ids
}

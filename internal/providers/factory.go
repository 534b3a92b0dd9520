package providers

import (
	"fmt"
	"net/http"
	"time"

	"crm-sync/internal/config"
)

// Registry resolves the adapter for a provider type. It is built once at
// startup and read-only afterwards; adapters are cached per process, never
// per connection, because credentials travel with every call.
type Registry struct {
	adapters map[ProviderType]CrmProvider
}

// NewRegistry wires every supported vendor adapter.
func NewRegistry(cfg *config.Config) *Registry {
	client := &http.Client{
		Timeout: time.Duration(cfg.ProviderTimeoutSecs) * time.Second,
	}

	adapters := map[ProviderType]CrmProvider{
		ProviderDynamics365: NewDynamicsProvider(client, OAuthApp{
			ClientID:     cfg.DynamicsClientID,
			ClientSecret: cfg.DynamicsClientSecret,
			TenantID:     cfg.DynamicsTenantID,
		}),
		ProviderHubSpot: NewHubSpotProvider(client, OAuthApp{
			ClientID:     cfg.HubSpotClientID,
			ClientSecret: cfg.HubSpotClientSecret,
		}),
	}

	return &Registry{adapters: adapters}
}

// NewRegistryOf builds a registry from explicit adapters, keyed by their
// Type(). Tests use it to inject in-memory vendors.
func NewRegistryOf(adapters ...CrmProvider) *Registry {
	r := &Registry{adapters: make(map[ProviderType]CrmProvider, len(adapters))}
	for _, adapter := range adapters {
		r.adapters[adapter.Type()] = adapter
	}
	return r
}

// Get returns the adapter for the given provider type.
func (r *Registry) Get(providerType ProviderType) (CrmProvider, error) {
	adapter, ok := r.adapters[providerType]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for %q: %w", providerType, ErrUnsupportedProvider)
	}
	return adapter, nil
}

// Types lists the registered provider types.
func (r *Registry) Types() []ProviderType {
	types := make([]ProviderType, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	return types
}

// OAuthApp holds the vendor app registration used for token flows.
type OAuthApp struct {
	ClientID     string
	ClientSecret string
	TenantID     string // Dynamics only
}

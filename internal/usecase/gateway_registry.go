package usecase

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/adapter"
	"billing-gateway/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// GatewayRegistry maps adapter names to factories and builds adapters for
// configured pay_gateways rows.
type GatewayRegistry struct {
	factories map[string]adapter.AdapterFactory
	gateways  repository.GatewayRepository
	client    *http.Client
	log       *zerolog.Logger

	// BaseURLs overrides the API endpoint per adapter name. Tests point it at fakes.
	BaseURLs map[string]string
}

func NewGatewayRegistry(factories []adapter.AdapterFactory, gateways repository.GatewayRepository, httpTimeout time.Duration, logger *zerolog.Logger) *GatewayRegistry {
	r := &GatewayRegistry{
		factories: make(map[string]adapter.AdapterFactory, len(factories)),
		gateways:  gateways,
		client:    &http.Client{Timeout: httpTimeout},
		log:       logger,
		BaseURLs:  map[string]string{},
	}
	for _, f := range factories {
		r.factories[strings.ToLower(f.Name())] = f
	}
	return r
}

// Factory looks a gateway type up by name, ignoring case.
func (r *GatewayRegistry) Factory(name string) (adapter.AdapterFactory, error) {
	f, ok := r.factories[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, &domain.UnknownGatewayError{Name: name}
	}
	return f, nil
}

// Schemas lists every registered gateway descriptor sorted by name.
func (r *GatewayRegistry) Schemas() []model.GatewayConfig {
	out := make([]model.GatewayConfig, 0, len(r.factories))
	for _, f := range r.factories {
		out = append(out, f.Schema())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Build constructs the adapter for a gateway row without checking Enabled.
func (r *GatewayRegistry) Build(g *model.PayGateway) (adapter.PaymentAdapter, error) {
	f, err := r.Factory(g.Gateway)
	if err != nil {
		return nil, err
	}
	l := r.log.With().Str("gateway", f.Name()).Int64("gateway_id", g.ID).Logger()
	return f.New(adapter.AdapterConfig{
		Credentials: g.Credentials,
		TestMode:    g.TestMode,
		BaseURL:     r.BaseURLs[f.Name()],
		HTTPClient:  r.client,
		Logger:      &l,
	})
}

// Resolve loads an enabled gateway and builds its adapter.
func (r *GatewayRegistry) Resolve(ctx context.Context, gatewayID int64) (adapter.PaymentAdapter, *model.PayGateway, error) {
	g, err := r.gateways.FindByID(ctx, nil, gatewayID)
	if err != nil {
		return nil, nil, err
	}
	if !g.Enabled {
		return nil, g, domain.ErrGatewayDisabled
	}
	a, err := r.Build(g)
	if err != nil {
		return nil, g, err
	}
	return a, g, nil
}

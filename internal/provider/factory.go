package provider

import (
	"context"
	"fmt"

	"github.com/angelmondragon/subsync/pkg/config"
	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/metrics"
	pkgsquare "github.com/angelmondragon/subsync/pkg/square"
	pkgstripe "github.com/angelmondragon/subsync/pkg/stripe"
)

// Clients carries the SDK client of the configured provider. Exactly one field is set.
type Clients struct {
	Stripe *pkgstripe.Client
	Square *pkgsquare.Client
}

// NewFromConfig builds the configured billing provider wrapped with the call timeout and metrics.
func NewFromConfig(ctx context.Context, cfg *config.Config, m *metrics.ReconcileMetrics, logg *logger.Logger) (BillingProvider, Clients, error) {
	var (
		base    BillingProvider
		clients Clients
	)
	switch kind := cfg.Billing.NormalizedProvider(); kind {
	case config.BillingProviderStripe:
		client, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, Clients{}, fmt.Errorf("stripe client: %w", err)
		}
		if client.IsLive() && !cfg.App.IsProd() {
			return nil, Clients{}, fmt.Errorf("live stripe keys are only allowed when app env is %q", config.AppEnvProd)
		}
		p, err := NewStripeProvider(client)
		if err != nil {
			return nil, Clients{}, err
		}
		base, clients.Stripe = p, client
	case config.BillingProviderSquare:
		client, err := pkgsquare.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, Clients{}, fmt.Errorf("square client: %w", err)
		}
		p, err := NewSquareProvider(client)
		if err != nil {
			return nil, Clients{}, err
		}
		base, clients.Square = p, client
	default:
		return nil, Clients{}, fmt.Errorf("unsupported billing provider %q", kind)
	}
	return Instrument(WithTimeout(base, cfg.Billing.ProviderTimeout), m, logg), clients, nil
}

package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/subsync/api/controllers"
	admincontrollers "github.com/angelmondragon/subsync/api/controllers/admin"
	subscriptioncontrollers "github.com/angelmondragon/subsync/api/controllers/subscriptions"
	webhookcontrollers "github.com/angelmondragon/subsync/api/controllers/webhooks"
	"github.com/angelmondragon/subsync/api/middleware"
	"github.com/angelmondragon/subsync/internal/duplicates"
	"github.com/angelmondragon/subsync/internal/events"
	"github.com/angelmondragon/subsync/internal/owners"
	"github.com/angelmondragon/subsync/internal/reconcile"
	"github.com/angelmondragon/subsync/internal/seats"
	subsvc "github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/pkg/config"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/outbox"
	pkgredis "github.com/angelmondragon/subsync/pkg/redis"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type redisStore interface {
	pinger
	pkgredis.IdempotencyStore
}

type signingClient interface {
	SigningSecret() string
}

type subscriptionService interface {
	ListForOwner(ctx context.Context, ownerID uuid.UUID) (*subsvc.OwnerSubscriptions, error)
}

type seatService interface {
	SetSeats(ctx context.Context, input seats.SetSeatsInput) (*seats.SetSeatsResult, error)
}

type duplicateService interface {
	PlanResolution(ctx context.Context, ownerID uuid.UUID) (*duplicates.Plan, error)
	ApplyResolution(ctx context.Context, plan duplicates.Plan, actor *outbox.ActorRef) (*duplicates.ResolutionResult, error)
}

type ownerService interface {
	LinkCustomer(ctx context.Context, input owners.LinkCustomerInput) (*models.BillingCustomer, error)
	ListForOwner(ctx context.Context, ownerID uuid.UUID) ([]models.BillingCustomer, error)
}

type webhookProcessor interface {
	Process(ctx context.Context, env events.Envelope) (reconcile.Result, error)
}

// Services groups the domain services served over HTTP.
type Services struct {
	Subscriptions subscriptionService
	Seats         seatService
	Duplicates    duplicateService
	Owners        ownerService
	Webhooks      webhookProcessor
}

// Providers holds the signing secrets for the enabled billing providers. A nil client disables
// that provider's webhook route.
type Providers struct {
	Stripe signingClient
	Square signingClient
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP pinger,
	redisClient redisStore,
	metricsHandler http.Handler,
	services Services,
	providers Providers,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	var store pkgredis.IdempotencyStore
	if redisClient != nil {
		store = redisClient
	}
	idempotent := middleware.Idempotency(store, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		if providers.Stripe != nil {
			r.Post("/stripe", webhookcontrollers.StripeWebhook(services.Webhooks, providers.Stripe, logg))
		}
		if providers.Square != nil {
			r.Post("/square", webhookcontrollers.SquareWebhook(services.Webhooks, providers.Square, cfg.Square.WebhookURL, logg))
		}
	})

	r.Route("/api/v1/owners/{ownerId}", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireOwnerAccess("ownerId", logg))
		r.Get("/subscriptions", subscriptioncontrollers.OwnerSubscriptions(services.Subscriptions, logg))
		r.With(idempotent).Post("/seats", subscriptioncontrollers.OwnerSetSeats(services.Seats, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.ActorRoleOperator, logg))
		r.With(idempotent).Post("/billing-customers", admincontrollers.LinkBillingCustomer(services.Owners, logg))
		r.Route("/owners/{ownerId}", func(r chi.Router) {
			r.Get("/billing-customers", admincontrollers.OwnerBillingCustomers(services.Owners, logg))
			r.Get("/duplicates/plan", admincontrollers.DuplicatePlan(services.Duplicates, logg))
			r.With(idempotent).Post("/duplicates/apply", admincontrollers.DuplicateApply(services.Duplicates, logg))
		})
	})

	return r
}

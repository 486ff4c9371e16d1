package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/subsync/api/responses"
	"github.com/angelmondragon/subsync/internal/events"
	"github.com/angelmondragon/subsync/internal/reconcile"
	stripewebhook "github.com/angelmondragon/subsync/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
)

const maxWebhookBody = 1 << 20

type eventProcessor interface {
	Process(ctx context.Context, env events.Envelope) (reconcile.Result, error)
}

type signingClient interface {
	SigningSecret() string
}

// StripeWebhook verifies, normalizes and reconciles Stripe billing events. Skips answer 200;
// failures answer non-2xx so Stripe redelivers.
func StripeWebhook(processor eventProcessor, client signingClient, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if processor == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEventWithOptions(payload, sigHeader, client.SigningSecret(), webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "verify signature"))
			return
		}

		env, ok, err := stripewebhook.Normalize(&event)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithEvent(ctx, event.ID, string(event.Type))
		}
		if !ok {
			if logg != nil {
				logg.Info(ctx, "stripe event ignored")
			}
			responses.WriteSuccess(w, map[string]string{"status": "ignored"})
			return
		}

		writeResult(ctx, logg, w, processor, env)
	}
}

func writeResult(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, processor eventProcessor, env events.Envelope) {
	result, err := processor.Process(ctx, env)
	if err != nil {
		responses.WriteError(ctx, logg, w, err)
		return
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"status":          result.Status,
			"reason":          result.Reason,
			"subscription_id": result.SubscriptionID,
		}), "webhook event reconciled")
	}
	responses.WriteSuccess(w, result)
}

package webhooks

import (
	"io"
	"net/http"

	"github.com/angelmondragon/subsync/api/responses"
	squarewebhook "github.com/angelmondragon/subsync/internal/webhooks/square"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
)

// SquareWebhook verifies, normalizes and reconciles Square billing events. notificationURL must
// be the exact URL registered with Square since it is part of the signed payload.
func SquareWebhook(processor eventProcessor, client signingClient, notificationURL string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if processor == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "square client unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		signature := r.Header.Get(squarewebhook.SignatureHeader)
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "square signature missing"))
			return
		}
		if !squarewebhook.VerifySignature(payload, signature, client.SigningSecret(), notificationURL) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid square signature"))
			return
		}

		event, err := squarewebhook.Decode(payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		env, ok, err := squarewebhook.Normalize(event)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithEvent(ctx, event.EventID, event.Type)
		}
		if !ok {
			if logg != nil {
				logg.Info(ctx, "square event ignored")
			}
			responses.WriteSuccess(w, map[string]string{"status": "ignored"})
			return
		}

		writeResult(ctx, logg, w, processor, env)
	}
}

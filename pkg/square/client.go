package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/subsync/pkg/config"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"

	defaultHTTPTimeout = 15 * time.Second
)

var (
	errAccessTokenRequired   = errors.New("square access token is required")
	errWebhookSecretRequired = errors.New("square webhook secret is required")
	errInvalidSquareEnv      = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired        = errors.New("square logger is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// statusCodes maps Square HTTP statuses onto domain codes. Unlisted 4xx are validation errors and
// everything else is a dependency failure.
var statusCodes = map[int]pkgerrors.Code{
	http.StatusBadRequest:          pkgerrors.CodeValidation,
	http.StatusUnauthorized:        pkgerrors.CodeUnauthorized,
	http.StatusForbidden:           pkgerrors.CodeForbidden,
	http.StatusNotFound:            pkgerrors.CodeNotFound,
	http.StatusConflict:            pkgerrors.CodeConflict,
	http.StatusUnprocessableEntity: pkgerrors.CodeStateConflict,
	http.StatusTooManyRequests:     pkgerrors.CodeRateLimit,
}

// Client wraps the Square SDK for the two subscription calls reconciliation needs. The SDK's own
// retries are disabled; callers decide whether a failed mutation is retried.
type Client struct {
	sdk           *sqclient.Client
	accessToken   string
	environment   string
	webhookSecret string
	logg          *logger.Logger
}

func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errWebhookSecretRequired
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURLs[env]),
		sqoption.WithToken(token),
		sqoption.WithHTTPClient(&http.Client{Timeout: timeout}),
		sqoption.WithMaxAttempts(1),
	)

	logg.Info(logg.WithFields(ctx, map[string]any{
		"square_env":          env,
		"square_http_timeout": timeout.String(),
	}), "square client initialized")

	return &Client{
		sdk:           sdk,
		accessToken:   token,
		environment:   env,
		webhookSecret: secret,
		logg:          logg,
	}, nil
}

func (c *Client) AccessToken() string {
	if c == nil {
		return ""
	}
	return c.accessToken
}

// Environment is "sandbox" or "production".
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// CancelSubscription schedules cancellation at the charged-through date.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) (*sq.Subscription, error) {
	return c.subscriptionCall(ctx, "cancel_subscription", subscriptionID, func(ctx context.Context) (*sq.Subscription, error) {
		resp, err := c.sdk.Subscriptions.Cancel(ctx, &sq.CancelSubscriptionsRequest{SubscriptionID: subscriptionID})
		if err != nil {
			return nil, err
		}
		return resp.GetSubscription(), nil
	})
}

// GetSubscription fetches the provider's current view of a subscription.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*sq.Subscription, error) {
	return c.subscriptionCall(ctx, "get_subscription", subscriptionID, func(ctx context.Context) (*sq.Subscription, error) {
		resp, err := c.sdk.Subscriptions.Get(ctx, &sq.GetSubscriptionsRequest{SubscriptionID: subscriptionID})
		if err != nil {
			return nil, err
		}
		return resp.GetSubscription(), nil
	})
}

func (c *Client) subscriptionCall(ctx context.Context, op, subscriptionID string, fn func(context.Context) (*sq.Subscription, error)) (*sq.Subscription, error) {
	ctx = c.logg.WithFields(ctx, map[string]any{
		"square_op":       op,
		"subscription_id": subscriptionID,
	})
	start := time.Now()
	sub, err := fn(ctx)
	elapsed := c.logg.WithField(ctx, "duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		mapped := mapError(err, op)
		c.logg.Warn(c.logg.WithFields(elapsed, map[string]any{
			"error":      err.Error(),
			"error_code": pkgerrors.CodeOf(mapped),
		}), "square.call_failed")
		return nil, mapped
	}
	c.logg.Info(c.logg.WithField(elapsed, "status", statusOf(sub)), "square.call_ok")
	return sub, nil
}

// mapError turns SDK errors into domain errors. Square error codes take precedence over the HTTP
// status when they are more specific.
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf("square %s failed", strings.ReplaceAll(op, "_", " "))

	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
	}
	code := codeForStatus(apiErr.StatusCode)
scan:
	for _, sqErr := range apiErrors(apiErr) {
		switch {
		case sqErr == nil:
		case sqErr.Code == sq.ErrorCodeIdempotencyKeyReused:
			code = pkgerrors.CodeIdempotency
			break scan
		case sqErr.Category == sq.ErrorCategoryAuthenticationError:
			code = pkgerrors.CodeUnauthorized
			break scan
		}
	}
	return pkgerrors.Wrap(code, err, msg)
}

func apiErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var body struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(inner.Error())), &body); err != nil {
		return nil
	}
	return body.Errors
}

func codeForStatus(status int) pkgerrors.Code {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	if status >= 400 && status < 500 {
		return pkgerrors.CodeValidation
	}
	return pkgerrors.CodeDependency
}

func statusOf(sub *sq.Subscription) string {
	if sub == nil || sub.GetStatus() == nil {
		return ""
	}
	return string(*sub.GetStatus())
}

func normalizeEnv(raw string) (string, error) {
	switch env := strings.TrimSpace(strings.ToLower(raw)); env {
	case "":
		return sandboxEnv, nil
	case sandboxEnv, productionEnv:
		return env, nil
	default:
		return "", errInvalidSquareEnv
	}
}

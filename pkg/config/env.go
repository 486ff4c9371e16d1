package config

const EnvPrefix = "SUBSYNC"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	BillingProviderStripe = "stripe"
	BillingProviderSquare = "square"
)

const (
	EnvAppEnv   = "SUBSYNC_APP_ENV"
	EnvPort     = "SUBSYNC_APP_PORT"
	EnvLogLevel = "SUBSYNC_LOG_LEVEL"

	EnvDBDSN  = "SUBSYNC_DB_DSN"
	EnvDBHost = "SUBSYNC_DB_HOST"
	EnvDBUser = "SUBSYNC_DB_USER"
	EnvDBName = "SUBSYNC_DB_NAME"

	EnvRedisURL = "SUBSYNC_REDIS_URL"

	EnvJWTSecret = "SUBSYNC_JWT_SECRET"
	EnvJWTIssuer = "SUBSYNC_JWT_ISSUER"

	EnvBillingProvider        = "SUBSYNC_BILLING_PROVIDER"
	EnvBillingProviderTimeout = "SUBSYNC_BILLING_PROVIDER_TIMEOUT"

	EnvSeatsStarterPrice  = "SUBSYNC_SEATS_STARTER_PRICE"
	EnvSeatsTeamPrice     = "SUBSYNC_SEATS_TEAM_PRICE"
	EnvSeatsBusinessPrice = "SUBSYNC_SEATS_BUSINESS_PRICE"

	EnvPubSubAuditTopic = "SUBSYNC_PUBSUB_AUDIT_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

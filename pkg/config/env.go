package config

// EnvPrefix is empty because every field carries its fully qualified name.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv         = "FULFILLMENT_APP_ENV"
	EnvPort           = "FULFILLMENT_APP_PORT"
	EnvDBDSN          = "FULFILLMENT_DB_DSN"
	EnvDBHost         = "FULFILLMENT_DB_HOST"
	EnvDBUser         = "FULFILLMENT_DB_USER"
	EnvDBPassword     = "FULFILLMENT_DB_PASSWORD"
	EnvDBName         = "FULFILLMENT_DB_NAME"
	EnvDBLockTimeout  = "FULFILLMENT_DB_LOCK_TIMEOUT"
	EnvRedisURL       = "FULFILLMENT_REDIS_URL"
	EnvJWTSecret      = "FULFILLMENT_JWT_SECRET"
	EnvJWTIssuer      = "FULFILLMENT_JWT_ISSUER"
	EnvClaimETA       = "FULFILLMENT_CLAIM_ETA"
	EnvTrackingPrefix = "FULFILLMENT_TRACKING_PREFIX"
	EnvSigningSecret  = "FULFILLMENT_PAYMENTS_SIGNING_SECRET"
	EnvOrdersTopic    = "FULFILLMENT_PUBSUB_ORDERS_TOPIC"
)

var dbPartEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

package core

import "time"

// Environment variable names, HCC_ prefixed per the module's env precedence
// layer (core.NewConfig: defaults < env < options).
const (
	EnvLogLevel     = "HCC_LOG_LEVEL"
	EnvLogFormat    = "HCC_LOG_FORMAT"
	EnvArangoURL    = "HCC_ARANGO_URL"
	EnvRedisURL     = "HCC_REDIS_URL"
	EnvOpenAIAPIKey = "HCC_OPENAI_API_KEY"
	EnvOTELEndpoint = "HCC_OTEL_ENDPOINT"
)

// Default timeouts for the suspension points named in §5 of the design.
const (
	DefaultPlannerTimeout = 30 * time.Second
	DefaultStoreDeadline  = 5 * time.Second
)

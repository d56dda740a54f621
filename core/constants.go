package core

import "time"

// Environment variable names recognized by Config.LoadFromEnv.
const (
	EnvRedisURL              = "SENTINELOPS_REDIS_URL"
	EnvNamespace              = "SENTINELOPS_NAMESPACE"
	EnvMaxConcurrentIncidents = "SENTINELOPS_MAX_CONCURRENT_INCIDENTS"
	EnvMaxQueueSize           = "SENTINELOPS_MAX_QUEUE_SIZE"
	EnvWorkflowTimeout        = "SENTINELOPS_WORKFLOW_TIMEOUT"
	EnvAnalysisTimeout        = "SENTINELOPS_ANALYSIS_TIMEOUT"
	EnvRemediationTimeout     = "SENTINELOPS_REMEDIATION_TIMEOUT"
	EnvApprovalTimeout        = "SENTINELOPS_APPROVAL_TIMEOUT"
	EnvAutoApproveEnabled     = "SENTINELOPS_AUTO_APPROVE_ENABLED"
	EnvAuditSigningEnabled    = "SENTINELOPS_AUDIT_SIGNING_ENABLED"
	EnvAuditSigningKey        = "SENTINELOPS_AUDIT_SIGNING_KEY"
	EnvLogLevel               = "SENTINELOPS_LOG_LEVEL"
	EnvDevMode                = "SENTINELOPS_DEV_MODE"
)

// Cache defaults.
const (
	// DefaultCacheKeyPrefix namespaces result-cache keys in Redis.
	DefaultCacheKeyPrefix = "sentinelops:cache:"

	// DefaultCacheTTL is how long a cached analysis artifact is considered
	// fresh before it must be recomputed.
	DefaultCacheTTL = 10 * time.Minute
)

// Queue and bus key defaults.
const (
	DefaultQueueKey      = "sentinelops:incidents:queue"
	DefaultProcessingKey = "sentinelops:incidents:processing"
)

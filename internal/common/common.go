package common

// Shared constants to avoid magic strings and numbers.

// HTTP headers and content types
const (
	HeaderAPIKey      = "X-API-Key" // #nosec G101 - header name constant, not a credential
	HeaderContentType = "Content-Type"
	ContentTypeJSON   = "application/json"
	ContentTypeMP4    = "video/mp4"
	ContentTypeMPEG   = "audio/mpeg"
)

// API paths
const (
	PathHealthz       = "/healthz"
	PathBatches       = "/v1/batches"
	PathDispatch      = "/v1/dispatch"
	PathJob           = "/v1/jobs/{id}"
	PathJobApprovals  = "/v1/jobs/{id}/approvals"
	PathVoiceProfiles = "/v1/voice-profiles"
	PathVoiceProfile  = "/v1/voice-profiles/{id}"
	PathPublish       = "/v1/publish"
	PathPublishEntry  = "/v1/publish/{id}"
	PathCostPresets   = "/v1/cost-presets"
	PathFiles         = "/files/"
)

// Defaults and limits
const (
	DefaultLockName     = "main-worker"
	DefaultClaimLimit   = 10
	SQLiteBusyTimeoutMS = 5000
	ErrorSnippetLimit   = 400
)

// Messages surfaced to callers.
const (
	MsgWorkerBusy = "worker already running"
)

// Publish entry statuses.
const (
	PublishScheduled = "scheduled"
	PublishFailed    = "failed"
)

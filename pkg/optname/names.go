package optname

const (
	Ack            = "ack"
	BackoffMax     = "backoff-max"
	BackoffMin     = "backoff-min"
	ChunkSize      = "chunk-size"
	ConfigFile     = "config"
	ConnTimeout    = "connect-timeout"
	ContentType    = "content-type"
	ExpectedLength = "expected-length"
	IdleTimeout    = "timeout"
	Journal        = "journal"
	LoggingLevel   = "log-level"
	MaxAttempts    = "max-attempts"
	Progress       = "progress"
	Published      = "published"
	Resolve        = "resolve"
	Retries        = "retries"
	Title          = "title"
	UserAgent      = "user-agent"
	Verbose        = "verbose"
)

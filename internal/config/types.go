package config

// Config is the on-disk configuration. YAML and JSON are both accepted;
// unknown keys are rejected so typos surface at load time instead of being
// silently ignored.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Outbox   OutboxConfig   `json:"outbox"`
	Queue    QueueConfig    `json:"queue,omitempty"`
	Notifier NotifierConfig `json:"notifier,omitempty"`
	Download DownloadConfig `json:"download"`
	Tracker  TrackerConfig  `json:"tracker,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout for bot updates.
	PollTimeout string `json:"poll_timeout,omitempty"`
	// DefaultChat receives posts from creators with no explicit mapping.
	DefaultChat int64 `json:"default_chat,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the event store backend. Driver "sqlite" (default)
// uses Path; driver "postgres" uses DSN.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	DSN         string `json:"dsn,omitempty"`          // postgres only
}

type OutboxConfig struct {
	Interval    string `json:"interval,omitempty"`     // default "2s"
	BatchSize   int    `json:"batch_size,omitempty"`   // default 10
	LockTimeout string `json:"lock_timeout,omitempty"` // sqlite claim lease, default "5m"
}

// QueueConfig controls the secondary delivery path. Disabled by default;
// the outbox is the primary pipeline.
type QueueConfig struct {
	Enabled   bool   `json:"enabled"`
	Interval  string `json:"interval,omitempty"`   // default "5s"
	BatchSize int    `json:"batch_size,omitempty"` // default 10
}

type NotifierConfig struct {
	RatePerSec    float64 `json:"rate_per_sec,omitempty"` // default 0.5
	Burst         int     `json:"burst,omitempty"`
	RetryMax      int     `json:"retry_max,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
}

// DownloadConfig names the engine chain and carries per-engine settings.
// The chain slots accept an engine name or "none" to shorten the chain.
// DOWNLOAD_ENGINE* environment variables override the slots at fetch time.
type DownloadConfig struct {
	Engine    string `json:"engine"`
	Fallback1 string `json:"fallback_1,omitempty"`
	Fallback2 string `json:"fallback_2,omitempty"`

	Tikwm  TikwmConfig  `json:"tikwm,omitempty"`
	Snapdl SnapdlConfig `json:"snapdl,omitempty"`
}

type TikwmConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type SnapdlConfig struct {
	ResolverURL string `json:"resolver_url,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
}

// TrackerConfig controls creator polling. Schedule is a cron expression
// (5-field); creators are raw handles, sanitized at load.
type TrackerConfig struct {
	Enabled  bool     `json:"enabled"`
	Schedule string   `json:"schedule,omitempty"` // default "*/2 * * * *"
	Creators []string `json:"creators,omitempty"`
}

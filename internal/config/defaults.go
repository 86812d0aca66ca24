package config

const (
	defaultDataDir    = "~/.local/share/morsel"
	defaultLogDir     = "~/.local/share/morsel/logs"
	defaultArchiveDir = "~/.local/share/morsel/archives"

	defaultForumBaseURL    = "https://oauth.reddit.com"
	defaultForumUserAgent  = "morsel-collector/0.1"
	defaultForumRPM        = 60.0
	defaultForumTimeout    = 30
	defaultExtractionURL   = "https://openrouter.ai/api/v1/chat/completions"
	defaultExtractionModel = "google/gemini-3-flash-preview"
	defaultExtractTimeout  = 90
	defaultWorkers         = 16
	defaultEngagedScore    = 25

	defaultMaxChars          = 24000
	defaultMaxTokens         = 6000
	defaultMaxComments       = 60
	defaultSecondsPerComment = 1.5

	defaultLookbackDays   = 21
	defaultProbeSize      = 5
	defaultMinUnseenProbe = 3

	defaultRankingTimeout = 30

	defaultJobPollInterval    = 5
	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			ArchiveDir: defaultArchiveDir,
		},
		Forum: Forum{
			BaseURL:           defaultForumBaseURL,
			UserAgent:         defaultForumUserAgent,
			RequestsPerMinute: defaultForumRPM,
			TimeoutSeconds:    defaultForumTimeout,
		},
		Extraction: Extraction{
			BaseURL:        defaultExtractionURL,
			Model:          defaultExtractionModel,
			TimeoutSeconds: defaultExtractTimeout,
			Workers:        defaultWorkers,
			EngagedScore:   defaultEngagedScore,
		},
		Chunking: Chunking{
			MaxChars:          defaultMaxChars,
			MaxTokens:         defaultMaxTokens,
			MaxComments:       defaultMaxComments,
			SecondsPerComment: defaultSecondsPerComment,
		},
		Freshness: Freshness{
			LookbackDays:   defaultLookbackDays,
			ProbeSize:      defaultProbeSize,
			MinUnseenProbe: defaultMinUnseenProbe,
		},
		Ranking: Ranking{
			TimeoutSeconds: defaultRankingTimeout,
		},
		Workflow: Workflow{
			JobPollInterval:    defaultJobPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

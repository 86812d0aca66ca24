package config

import "strings"

// normalize expands paths and fills zero values with defaults so downstream
// code never sees an unusable setting.
func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(valueOr(c.Paths.DataDir, defaultDataDir)); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(valueOr(c.Paths.LogDir, defaultLogDir)); err != nil {
		return err
	}
	if c.Paths.ArchiveDir, err = expandPath(valueOr(c.Paths.ArchiveDir, defaultArchiveDir)); err != nil {
		return err
	}

	c.Forum.BaseURL = strings.TrimSpace(valueOr(c.Forum.BaseURL, defaultForumBaseURL))
	c.Forum.UserAgent = strings.TrimSpace(valueOr(c.Forum.UserAgent, defaultForumUserAgent))
	if c.Forum.RequestsPerMinute <= 0 {
		c.Forum.RequestsPerMinute = defaultForumRPM
	}
	if c.Forum.TimeoutSeconds <= 0 {
		c.Forum.TimeoutSeconds = defaultForumTimeout
	}

	c.Extraction.APIKey = strings.TrimSpace(c.Extraction.APIKey)
	c.Extraction.BaseURL = strings.TrimSpace(valueOr(c.Extraction.BaseURL, defaultExtractionURL))
	c.Extraction.Model = strings.TrimSpace(valueOr(c.Extraction.Model, defaultExtractionModel))
	if c.Extraction.TimeoutSeconds <= 0 {
		c.Extraction.TimeoutSeconds = defaultExtractTimeout
	}
	if c.Extraction.Workers <= 0 {
		c.Extraction.Workers = defaultWorkers
	}
	if c.Extraction.EngagedScore <= 0 {
		c.Extraction.EngagedScore = defaultEngagedScore
	}

	if c.Chunking.MaxChars <= 0 {
		c.Chunking.MaxChars = defaultMaxChars
	}
	if c.Chunking.MaxTokens <= 0 {
		c.Chunking.MaxTokens = defaultMaxTokens
	}
	if c.Chunking.MaxComments <= 0 {
		c.Chunking.MaxComments = defaultMaxComments
	}
	if c.Chunking.SecondsPerComment <= 0 {
		c.Chunking.SecondsPerComment = defaultSecondsPerComment
	}

	if c.Freshness.LookbackDays <= 0 {
		c.Freshness.LookbackDays = defaultLookbackDays
	}
	if c.Freshness.ProbeSize <= 0 {
		c.Freshness.ProbeSize = defaultProbeSize
	}
	if c.Freshness.MinUnseenProbe <= 0 {
		c.Freshness.MinUnseenProbe = defaultMinUnseenProbe
	}

	c.Ranking.Endpoint = strings.TrimSpace(c.Ranking.Endpoint)
	if c.Ranking.TimeoutSeconds <= 0 {
		c.Ranking.TimeoutSeconds = defaultRankingTimeout
	}

	if c.Workflow.JobPollInterval <= 0 {
		c.Workflow.JobPollInterval = defaultJobPollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		c.Workflow.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		c.Workflow.HeartbeatTimeout = defaultHeartbeatTimeout
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(valueOr(c.Logging.Format, defaultLogFormat)))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(valueOr(c.Logging.Level, defaultLogLevel)))
	return nil
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

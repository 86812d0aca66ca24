package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for values that cannot possibly work.
func (c *Config) Validate() error {
	if err := validateURL("forum.base_url", c.Forum.BaseURL); err != nil {
		return err
	}
	if err := validateURL("extraction.base_url", c.Extraction.BaseURL); err != nil {
		return err
	}
	if c.Ranking.Endpoint != "" {
		if err := validateURL("ranking.endpoint", c.Ranking.Endpoint); err != nil {
			return err
		}
	}
	// Tokens are estimated as chars/4, so a token budget above the character
	// budget could never bind and signals a misconfigured file.
	if c.Chunking.MaxTokens > c.Chunking.MaxChars {
		return fmt.Errorf("chunking: max_tokens %d exceeds max_chars %d", c.Chunking.MaxTokens, c.Chunking.MaxChars)
	}
	if c.Freshness.MinUnseenProbe > c.Freshness.ProbeSize {
		return fmt.Errorf("freshness: min_unseen_probe %d exceeds probe_size %d", c.Freshness.MinUnseenProbe, c.Freshness.ProbeSize)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging: unsupported format %q", c.Logging.Format)
	}
	return nil
}

func validateURL(field, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%s: value required", field)
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s: unsupported scheme %q", field, parsed.Scheme)
	}
	return nil
}

package esi

import (
	devenv "evetrade/dev/env"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

const DefaultBaseUrl = "https://esi.evetech.net/latest"

// Config is the "esi" section of config.json5.
type Config struct {
	BaseUrl           string  `json:"base_url"`
	UserAgent         string  `json:"user_agent"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	// MaxRetries is the number of retries after the first attempt of a request,
	// 0 means the default of 3 and a negative value disables retries.
	MaxRetries     int `json:"max_retries"`
	TimeoutSeconds int `json:"timeout_seconds"`
	// AccessToken is an SSO bearer token, TokenFile is read instead when it is empty.
	// TokenFile may begin with `<dev_state>`.
	AccessToken string `json:"access_token"`
	TokenFile   string `json:"token_file"`
	// ErrorLimitThreshold is the remaining error budget under which requests pause
	// until the error window resets.
	ErrorLimitThreshold int `json:"error_limit_threshold"`
	// MaxConcurrency bounds fan-out lookups like station name resolution.
	MaxConcurrency int `json:"max_concurrency"`
	// DumpDir, if set, receives a copy of every request and response. It may
	// begin with `<dev_state>`.
	DumpDir string `json:"dump_dir"`
}

func (c Config) withDefaults() Config {
	if c.BaseUrl == "" {
		c.BaseUrl = DefaultBaseUrl
	}
	if c.UserAgent == "" {
		c.UserAgent = "evetrade"
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 20
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	if c.ErrorLimitThreshold == 0 {
		c.ErrorLimitThreshold = 10
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 20
	}
	return c
}

type tokenFile struct {
	AccessToken string `json:"access_token"`
}

// loadToken returns the configured bearer token. A token file may either hold the
// bare token or the JSON token response of the SSO flow.
func (c Config) loadToken() (string, error) {
	if c.AccessToken != "" {
		return c.AccessToken, nil
	}
	if c.TokenFile == "" {
		return "", nil
	}
	path, err := devenv.ResolvePath(c.TokenFile)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	trimmed := strings.TrimSpace(string(content))
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}
	var parsed tokenFile
	err = json.Unmarshal([]byte(trimmed), &parsed)
	if err != nil {
		return "", fmt.Errorf("parse token file: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("token file %s has no access_token", c.TokenFile)
	}
	return parsed.AccessToken, nil
}

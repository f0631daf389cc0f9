package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

const defaultAPIBaseURL = "http://localhost:8080/api"
const defaultRequestsPerSecond = 10

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

type Config struct {
	apiBaseURL        string
	apiToken          string
	sentryDSN         string
	requestsPerSecond int
	env               environment
}

func (c *Config) APIBaseURL() string {
	return c.apiBaseURL
}

func (c *Config) APIToken() string {
	return c.apiToken
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

func (c *Config) RequestsPerSecond() int {
	return c.requestsPerSecond
}

func (c *Config) EnvironmentName() string {
	return string(c.env)
}

func (c *Config) IsProduction() bool {
	return c.env == production
}

func (c *Config) IsStaging() bool {
	return c.env == staging
}

func (c *Config) IsDevelopment() bool {
	return c.env == development
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	return fmt.Sprintf(
		"Config{env: %s, apiBaseURL: %s, requestsPerSecond: %d, ...}",
		string(c.env), c.apiBaseURL, c.requestsPerSecond,
	)
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}

	var env environment
	rawEnv, ok := os.LookupEnv("MARKETCACHE_ENVIRONMENT")
	if !ok {
		return missingKey("MARKETCACHE_ENVIRONMENT")
	}
	switch rawEnv {
	case "production":
		env = production
	case "staging":
		env = staging
	case "development":
		env = development
	default:
		return Config{}, fmt.Errorf("%w: MARKETCACHE_ENVIRONMENT (%s)", ErrInvalidValue, rawEnv)
	}

	apiBaseURL := os.Getenv("MARKETCACHE_API_BASE_URL")
	apiToken := os.Getenv("MARKETCACHE_API_TOKEN")
	sentryDSN := os.Getenv("SENTRY_DSN")

	if env == production || env == staging {
		if apiBaseURL == "" {
			return missingKey("MARKETCACHE_API_BASE_URL")
		}
		if sentryDSN == "" {
			return missingKey("SENTRY_DSN")
		}
	}

	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}
	parsed, err := url.Parse(apiBaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Config{}, fmt.Errorf("%w: MARKETCACHE_API_BASE_URL (%s)", ErrInvalidValue, apiBaseURL)
	}

	requestsPerSecond := defaultRequestsPerSecond
	if rawRPS := os.Getenv("MARKETCACHE_REQUESTS_PER_SECOND"); rawRPS != "" {
		requestsPerSecond, err = strconv.Atoi(rawRPS)
		if err != nil || requestsPerSecond <= 0 {
			return Config{}, fmt.Errorf("%w: MARKETCACHE_REQUESTS_PER_SECOND (%s)", ErrInvalidValue, rawRPS)
		}
	}

	return Config{
		apiBaseURL:        apiBaseURL,
		apiToken:          apiToken,
		sentryDSN:         sentryDSN,
		requestsPerSecond: requestsPerSecond,
		env:               env,
	}, nil
}

package config_test

import (
	"testing"

	"github.com/Amund211/marketcache/internal/config"
	"github.com/stretchr/testify/require"
)

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

var requiredOutsideDevelopment = []string{"MARKETCACHE_API_BASE_URL", "SENTRY_DSN"}

func TestGetConfig(t *testing.T) {
	compareConfig := func(baseURL, token, sentryDSN string, rps int, env environment, conf config.Config) {
		t.Helper()
		require.Equal(t, baseURL, conf.APIBaseURL())
		require.Equal(t, token, conf.APIToken())
		require.Equal(t, sentryDSN, conf.SentryDSN())
		require.Equal(t, rps, conf.RequestsPerSecond())
		require.Equal(t, string(env), conf.EnvironmentName())
		require.Equal(t, env == production, conf.IsProduction())
		require.Equal(t, env == staging, conf.IsStaging())
		require.Equal(t, env == development, conf.IsDevelopment())
	}

	t.Run("ensure base environment is clean", func(t *testing.T) {
		t.Run("environment is missing", func(t *testing.T) {
			_, err := config.ConfigFromEnv()
			require.ErrorIs(t, err, config.ErrMissingRequiredValue)
		})

		t.Run("development environment uses defaults", func(t *testing.T) {
			t.Setenv("MARKETCACHE_ENVIRONMENT", "development")

			conf, err := config.ConfigFromEnv()
			require.NoError(t, err)
			compareConfig("http://localhost:8080/api", "", "", 10, development, conf)
		})
	})

	t.Run("values are read correctly", func(t *testing.T) {
		t.Setenv("MARKETCACHE_API_BASE_URL", "https://market.example.com/api")
		t.Setenv("MARKETCACHE_API_TOKEN", "token")
		t.Setenv("SENTRY_DSN", "https://key@sentry.example.com/1")
		t.Setenv("MARKETCACHE_REQUESTS_PER_SECOND", "25")

		for _, env := range []environment{production, staging, development} {
			t.Run(string(env), func(t *testing.T) {
				t.Setenv("MARKETCACHE_ENVIRONMENT", string(env))

				conf, err := config.ConfigFromEnv()
				require.NoError(t, err)
				compareConfig("https://market.example.com/api", "token", "https://key@sentry.example.com/1", 25, env, conf)
				require.NotContains(t, conf.NonSensitiveString(), "token")
			})
		}
	})

	t.Run("production and staging fail when missing variables", func(t *testing.T) {
		for _, variable := range requiredOutsideDevelopment {
			t.Setenv(variable, "https://placeholder.example.com")
		}

		for _, env := range []environment{production, staging} {
			t.Run(string(env), func(t *testing.T) {
				t.Setenv("MARKETCACHE_ENVIRONMENT", string(env))

				for _, variable := range requiredOutsideDevelopment {
					t.Run(variable, func(t *testing.T) {
						t.Setenv(variable, "")

						_, err := config.ConfigFromEnv()
						require.ErrorIs(t, err, config.ErrMissingRequiredValue)
					})
				}
			})
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		t.Setenv("MARKETCACHE_ENVIRONMENT", "development")

		for _, rps := range []string{"0", "-1", "many"} {
			t.Run("rps "+rps, func(t *testing.T) {
				t.Setenv("MARKETCACHE_REQUESTS_PER_SECOND", rps)
				_, err := config.ConfigFromEnv()
				require.ErrorIs(t, err, config.ErrInvalidValue)
			})
		}

		for _, baseURL := range []string{"not a url", "localhost:8080", "/api"} {
			t.Run("base url "+baseURL, func(t *testing.T) {
				t.Setenv("MARKETCACHE_API_BASE_URL", baseURL)
				_, err := config.ConfigFromEnv()
				require.ErrorIs(t, err, config.ErrInvalidValue)
			})
		}
	})

	t.Run("invalid environment", func(t *testing.T) {
		for _, env := range []string{"", "invalid", "my-env"} {
			t.Run(env, func(t *testing.T) {
				t.Setenv("MARKETCACHE_ENVIRONMENT", env)
				_, err := config.ConfigFromEnv()
				require.ErrorIs(t, err, config.ErrInvalidValue)
			})
		}
	})
}

package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosmicwatch/neowatch/internal/auth"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "console", cfg.Server.LogFormat)
	require.Equal(t, []string{"https://cosmicwatch.example.com", "https://staging.cosmicwatch.example.com"}, cfg.Server.CORS.AllowedOrigins)
	require.Equal(t, 50, cfg.Server.RateLimit.Requests)
	require.Equal(t, 10*time.Minute, cfg.Server.RateLimit.Window)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 20, cfg.Database.Pool.MaxOpenConns)
	require.Equal(t, 30*time.Minute, cfg.Database.Pool.ConnMaxLifetime)

	require.True(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, 2, cfg.Cache.Redis.DB)
	require.Equal(t, 3*time.Second, cfg.Cache.Redis.Timeout)
	require.Equal(t, "@every 30m", cfg.Cache.PurgeSchedule)

	require.Equal(t, "https://neo.example.com/rest/v1", cfg.Feed.BaseURL)
	require.Equal(t, "nasa-key", cfg.Feed.APIKey)
	require.Equal(t, 8*time.Second, cfg.Feed.Timeout)
	require.Equal(t, 900, cfg.Feed.RequestsPerMinute)
	require.Equal(t, 10*time.Second, cfg.Feed.FetchTimeout)

	require.True(t, cfg.Dispatch.Live.Enabled)
	require.Equal(t, "@every 2m", cfg.Dispatch.Live.Schedule)
	require.Equal(t, 90*time.Second, cfg.Dispatch.Live.Timeout)
	require.False(t, cfg.Dispatch.Digest.Enabled)
	require.Equal(t, 30*time.Minute, cfg.Dispatch.Digest.Timeout)
	require.Equal(t, 20*time.Second, cfg.Dispatch.MailTimeout)
	require.Equal(t, 8, cfg.Dispatch.UserConcurrency)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)

	require.True(t, cfg.Email.SMTP.Enabled)
	require.Equal(t, "smtp.example.com", cfg.Email.SMTP.Host)
	require.Equal(t, 2525, cfg.Email.SMTP.Port)
	require.Equal(t, "CosmicWatch Team", cfg.Email.SMTP.FromName)
	require.True(t, cfg.Email.SMTP.UseTLS)
	require.Equal(t, 15*time.Second, cfg.Email.SMTP.Timeout)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 5000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 100, cfg.Server.RateLimit.Requests)
	require.Equal(t, 15*time.Minute, cfg.Server.RateLimit.Window)
	require.Equal(t, "DEMO_KEY", cfg.Feed.APIKey)
	require.Equal(t, 5*time.Second, cfg.Feed.Timeout)
	require.Equal(t, "@every 60s", cfg.Dispatch.Live.Schedule)
	require.Equal(t, "0 */6 * * *", cfg.Dispatch.Digest.Schedule)
	require.Equal(t, 10*time.Second, cfg.Dispatch.MailTimeout)
	require.Equal(t, "@hourly", cfg.Cache.PurgeSchedule)
	require.Equal(t, 7*24*time.Hour, cfg.Auth.JWT.TTL)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("NEOWATCH_FEED_API_KEY", "from-env")
	t.Setenv("NEOWATCH_SERVER_PORT", "7070")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Feed.APIKey)
	require.Equal(t, 7070, cfg.Server.Port)
}

func TestAuthConfigAdapters(t *testing.T) {
	cfg := AuthConfig{JWT: JWTSettings{Secret: "secret", Issuer: "issuer", TTL: 30 * time.Minute}}

	require.Equal(t, auth.JWTConfig{
		Secret:         "secret",
		Issuer:         "issuer",
		AccessTokenTTL: 30 * time.Minute,
	}, cfg.JWTServiceConfig())

	var empty AuthConfig
	require.Equal(t, auth.DefaultAccessTokenTTL, empty.JWTServiceConfig().AccessTokenTTL)
}

func TestFeedAndCacheAdapters(t *testing.T) {
	feedCfg := FeedConfig{BaseURL: "https://neo.example.com", APIKey: "k", Timeout: time.Second, RequestsPerMinute: 60}.ClientConfig()
	require.Equal(t, "https://neo.example.com", feedCfg.BaseURL)
	require.Equal(t, "k", feedCfg.APIKey)
	require.Equal(t, time.Second, feedCfg.Timeout)
	require.Equal(t, 60, feedCfg.RequestsPerMinute)

	redisCfg := CacheConfig{Redis: RedisCacheConfig{Address: " redis:6379 ", Username: " u ", DB: 3}}.RedisClientConfig()
	require.Equal(t, "redis:6379", redisCfg.Address)
	require.Equal(t, "u", redisCfg.Username)
	require.Equal(t, 3, redisCfg.DB)
}

func TestEmailConfigAdapter(t *testing.T) {
	cfg := EmailConfig{
		SMTP: SMTPConfig{
			Enabled:  true,
			Host:     "smtp.example.com",
			Port:     2525,
			Username: "user",
			Password: "pass",
			From:     "no-reply@example.com",
			FromName: "CosmicWatch Alerts",
			UseTLS:   true,
			Timeout:  10 * time.Second,
		},
	}

	settings := cfg.SMTPSettings()
	require.True(t, settings.Enabled)
	require.Equal(t, "smtp.example.com", settings.Host)
	require.Equal(t, 2525, settings.Port)
	require.Equal(t, "user", settings.Username)
	require.Equal(t, "pass", settings.Password)
	require.Equal(t, "no-reply@example.com", settings.From)
	require.Equal(t, "CosmicWatch Alerts", settings.FromName)
	require.True(t, settings.UseTLS)
	require.Equal(t, 10*time.Second, settings.Timeout)
}

package config

import (
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mkessler/streamgate/internal/pkg/env"
)

// Config carries every secret and tunable the core components need. It is
// built once at startup and handed to components at construction time so
// nothing reads process environment ad hoc and tests can inject fake secrets.
type Config struct {
	AccessTokenSecret  string `validate:"required,min=16"`
	RefreshTokenSecret string `validate:"required,min=16"`
	MediaGrantSecret   string `validate:"required,min=16"`

	StripeWebhookSecret string `validate:"required"`

	AccessTokenTTL  time.Duration `validate:"required"`
	RefreshTokenTTL time.Duration `validate:"required"`

	// GrantTTL is the default lifetime of a media access grant. MaxGrantTTL
	// caps it no matter what is configured; a leaked grant must age out fast.
	GrantTTL    time.Duration `validate:"required"`
	MaxGrantTTL time.Duration `validate:"required"`

	// GracePeriod is how long a past_due entitlement keeps streaming before
	// the sweep expires it. TrialPeriod > 0 makes subscription.created land
	// on trialing instead of active.
	GracePeriod time.Duration `validate:"required"`
	TrialPeriod time.Duration

	// BillingPeriod is the fallback period length when a processor event
	// carries no explicit period end.
	BillingPeriod time.Duration `validate:"required"`

	QueueWorkers  int `validate:"min=1"`
	JobMaxRetries int `validate:"min=1"`

	S3 S3Config
}

// S3Config holds object store credentials. Enabled() mirrors how the rest of
// the app decides whether presigned URLs are available.
type S3Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	EndpointURL     string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

const (
	DefaultGrantTTL      = 5 * time.Minute
	DefaultMaxGrantTTL   = 15 * time.Minute
	DefaultGracePeriod   = 72 * time.Hour
	DefaultTrialPeriod   = 14 * 24 * time.Hour
	DefaultBillingPeriod = 30 * 24 * time.Hour
)

// Load builds a Config from the loaded environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		AccessTokenSecret:   env.GetEnv("SECRET_KEY_ACCESS", ""),
		RefreshTokenSecret:  env.GetEnv("SECRET_KEY_REFRESH", ""),
		MediaGrantSecret:    env.GetEnv("SECRET_KEY_MEDIA_GRANT", ""),
		StripeWebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		AccessTokenTTL:      durationEnv("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:     durationEnv("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		GrantTTL:            durationEnv("MEDIA_GRANT_TTL", DefaultGrantTTL),
		MaxGrantTTL:         DefaultMaxGrantTTL,
		GracePeriod:         durationEnv("PAST_DUE_GRACE_PERIOD", DefaultGracePeriod),
		TrialPeriod:         durationEnv("TRIAL_PERIOD", DefaultTrialPeriod),
		BillingPeriod:       durationEnv("BILLING_PERIOD", DefaultBillingPeriod),
		QueueWorkers:        intEnv("QUEUE_WORKERS", 5),
		JobMaxRetries:       intEnv("JOB_MAX_RETRIES", 3),
		S3: S3Config{
			Region:          env.GetEnv("S3_REGION", "us-east-1"),
			Bucket:          env.GetEnv("S3_BUCKET", ""),
			AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
			EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		},
	}

	if cfg.GrantTTL > cfg.MaxGrantTTL {
		cfg.GrantTTL = cfg.MaxGrantTTL
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func durationEnv(key string, def time.Duration) time.Duration {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func intEnv(key string, def int) int {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

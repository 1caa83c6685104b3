package config

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port               string `envconfig:"PORT" default:"8080"`
	Environment        string `envconfig:"ENV" default:"development"`
	DBConnectionString string `envconfig:"DATABASE_URL" required:"true"`
	JWTSecret          string `envconfig:"AUTH_JWT_SECRET" required:"true"`
	AppBaseURL         string `envconfig:"APP_BASE_URL" default:"http://localhost:3000"`

	// Polar billing provider settings
	PolarAccessToken   string `envconfig:"POLAR_ACCESS_TOKEN" required:"true"`
	PolarServer        string `envconfig:"POLAR_SERVER" default:"sandbox"` // sandbox | production
	PolarWebhookSecret string `envconfig:"POLAR_WEBHOOK_SECRET" required:"true"`

	// Pricing mode selects the product catalog: "subscription" or "ltd"
	PricingMode            string `envconfig:"PRICING_MODE" default:"subscription"`
	PolarProLTDProductID   string `envconfig:"POLAR_PRO_LTD_PRODUCT_ID"`
	PolarProMonthlyProduct string `envconfig:"POLAR_PRO_MONTHLY_PRODUCT_ID"`
	PolarProAnnualProduct  string `envconfig:"POLAR_PRO_ANNUAL_PRODUCT_ID"`

	// Reconciliation pacing
	SyncIntervalMinutes   int `envconfig:"SYNC_INTERVAL_MINUTES" default:"60"`
	ResyncStaleAfterHours int `envconfig:"RESYNC_STALE_AFTER_HOURS" default:"24"`
	ResyncThrottleMs      int `envconfig:"RESYNC_THROTTLE_MS" default:"100"`
	RepairWindowMinutes   int `envconfig:"REPAIR_WINDOW_MINUTES" default:"60"`
	RepairIntervalMinutes int `envconfig:"REPAIR_INTERVAL_MINUTES" default:"15"`

	// Webhook dead-letter queue (pgmq)
	WebhookDLQQueueName string `envconfig:"WEBHOOK_DLQ_QUEUE_NAME" default:"webhook_dead_letter"`
	DLQPollTimeoutSec   int    `envconfig:"DLQ_POLL_TIMEOUT_SEC" default:"30"`
	DLQPollMaxMsg       int    `envconfig:"DLQ_POLL_MAX_MSG" default:"10"`

	// Google Cloud Pub/Sub settings
	GCPProjectID                  string `envconfig:"GCP_PROJECT_ID"`
	PubSubEmulatorHost            string `envconfig:"PUBSUB_EMULATOR_HOST"`
	PubSubUserCreatedTopic        string `envconfig:"PUBSUB_USER_CREATED_TOPIC" default:"user-created"`
	PubSubPushServiceAccountEmail string `envconfig:"PUBSUB_PUSH_SERVICE_ACCOUNT_EMAIL"`
	JobEndpointAudience           string `envconfig:"JOB_ENDPOINT_AUDIENCE"`

	// Redis rate limiting
	RedisAddr         string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword     string `envconfig:"REDIS_PASSWORD"`
	ChatLimitFree     int    `envconfig:"CHAT_LIMIT_FREE" default:"10"`
	ChatLimitPro      int    `envconfig:"CHAT_LIMIT_PRO" default:"100"`
	ChatLimitWindowHr int    `envconfig:"CHAT_LIMIT_WINDOW_HOURS" default:"1"`

	// Upstream AI service (streaming proxy target)
	AIServiceBaseURL string `envconfig:"AI_SERVICE_BASE_URL" required:"true"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

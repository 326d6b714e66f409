/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables and an optional
 * .env file, providing a centralized way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the booking service.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	EventsExchange       string `mapstructure:"EVENTS_EXCHANGE"`
	PaymentCallbackQueue string `mapstructure:"PAYMENT_CALLBACK_QUEUE"`
	JWTSecret            string `mapstructure:"JWT_SECRET"`
	FrontendURL          string `mapstructure:"FRONTEND_URL"`
	InvoiceBaseURL       string `mapstructure:"INVOICE_BASE_URL"`

	SSLStoreID            string `mapstructure:"SSL_STORE_ID"`
	SSLStorePass          string `mapstructure:"SSL_STORE_PASS"`
	SSLPaymentAPI         string `mapstructure:"SSL_PAYMENT_API"`
	SSLValidationAPI      string `mapstructure:"SSL_VALIDATION_API"`
	SSLIPNURL             string `mapstructure:"SSL_IPN_URL"`
	SSLSuccessBackendURL  string `mapstructure:"SSL_SUCCESS_BACKEND_URL"`
	SSLFailBackendURL     string `mapstructure:"SSL_FAIL_BACKEND_URL"`
	SSLCancelBackendURL   string `mapstructure:"SSL_CANCEL_BACKEND_URL"`
	SSLSuccessFrontendURL string `mapstructure:"SSL_SUCCESS_FRONTEND_URL"`
	SSLFailFrontendURL    string `mapstructure:"SSL_FAIL_FRONTEND_URL"`
	SSLCancelFrontendURL  string `mapstructure:"SSL_CANCEL_FRONTEND_URL"`
	GatewayTimeoutSeconds int    `mapstructure:"GATEWAY_TIMEOUT_SECONDS"`

	BusinessTimezone              string `mapstructure:"BUSINESS_TIMEZONE"`
	UnpaidOrderTTLMinutes         int    `mapstructure:"UNPAID_ORDER_TTL_MINUTES"`
	ExpireUnpaidSchedule          string `mapstructure:"EXPIRE_UNPAID_SCHEDULE"`
	DailyOccupancySchedule        string `mapstructure:"DAILY_OCCUPANCY_SCHEDULE"`
	SchedulerEnabled              bool   `mapstructure:"SCHEDULER_ENABLED"`
	OwnerEarningPercent           int    `mapstructure:"OWNER_EARNING_PERCENT"`
	OrderCreateRateLimitPerMinute int    `mapstructure:"ORDER_CREATE_RATE_LIMIT_PER_MINUTE"`
}

// Location resolves BusinessTimezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		log.Printf("level=warn component=config msg=\"unknown business timezone; using UTC\" timezone=%q err=%v", c.BusinessTimezone, err)
		return time.UTC
	}
	return loc
}

func (c Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

func (c Config) UnpaidOrderTTL() time.Duration {
	return time.Duration(c.UnpaidOrderTTLMinutes) * time.Minute
}

// LoadConfig reads configuration from environment variables from the given path.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "5000")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "rentopia:rate_limit")
	viper.SetDefault("EVENTS_EXCHANGE", "rentopia.events")
	viper.SetDefault("PAYMENT_CALLBACK_QUEUE", "booking_service.payment_ipn")
	viper.SetDefault("GATEWAY_TIMEOUT_SECONDS", 15)
	viper.SetDefault("BUSINESS_TIMEZONE", "Asia/Dhaka")
	viper.SetDefault("UNPAID_ORDER_TTL_MINUTES", 30)
	viper.SetDefault("EXPIRE_UNPAID_SCHEDULE", "* * * * *")
	viper.SetDefault("DAILY_OCCUPANCY_SCHEDULE", "1 0 * * *")
	viper.SetDefault("SCHEDULER_ENABLED", true)
	viper.SetDefault("OWNER_EARNING_PERCENT", 90)
	viper.SetDefault("ORDER_CREATE_RATE_LIMIT_PER_MINUTE", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range []string{
		"SERVER_PORT",
		"DATABASE_URL",
		"REDIS_URL",
		"REDIS_RATE_LIMIT_PREFIX",
		"RABBITMQ_URL",
		"EVENTS_EXCHANGE",
		"PAYMENT_CALLBACK_QUEUE",
		"JWT_SECRET",
		"FRONTEND_URL",
		"INVOICE_BASE_URL",
		"SSL_STORE_ID",
		"SSL_STORE_PASS",
		"SSL_PAYMENT_API",
		"SSL_VALIDATION_API",
		"SSL_IPN_URL",
		"SSL_SUCCESS_BACKEND_URL",
		"SSL_FAIL_BACKEND_URL",
		"SSL_CANCEL_BACKEND_URL",
		"SSL_SUCCESS_FRONTEND_URL",
		"SSL_FAIL_FRONTEND_URL",
		"SSL_CANCEL_FRONTEND_URL",
		"GATEWAY_TIMEOUT_SECONDS",
		"BUSINESS_TIMEZONE",
		"UNPAID_ORDER_TTL_MINUTES",
		"EXPIRE_UNPAID_SCHEDULE",
		"DAILY_OCCUPANCY_SCHEDULE",
		"SCHEDULER_ENABLED",
		"OWNER_EARNING_PERCENT",
		"ORDER_CREATE_RATE_LIMIT_PER_MINUTE",
	} {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("DATABASE_URL", "DATABASE_URL", "DB_URL")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "rentopia:rate_limit"
	}
	config.InvoiceBaseURL = strings.TrimSuffix(strings.TrimSpace(config.InvoiceBaseURL), "/")

	if config.GatewayTimeoutSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive gateway timeout; using default\" value=%d", config.GatewayTimeoutSeconds)
		config.GatewayTimeoutSeconds = 15
	}
	if config.UnpaidOrderTTLMinutes <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive unpaid order ttl; using default\" value=%d", config.UnpaidOrderTTLMinutes)
		config.UnpaidOrderTTLMinutes = 30
	}
	if config.OwnerEarningPercent < 0 || config.OwnerEarningPercent > 100 {
		log.Printf("level=warn component=config msg=\"owner earning percent out of range; using default\" value=%d", config.OwnerEarningPercent)
		config.OwnerEarningPercent = 90
	}
	if config.OrderCreateRateLimitPerMinute < 0 {
		config.OrderCreateRateLimitPerMinute = 0
	}
	if strings.TrimSpace(config.BusinessTimezone) == "" {
		config.BusinessTimezone = "UTC"
	}

	return
}

package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TemplateIDs holds the outbound template registered for each notification kind.
type TemplateIDs struct {
	Rejected   string
	Reassigned string
	Assigned   string
	Resolved   string
	Commented  string
}

type Config struct {
	HTTPPort    int
	MetricsPort int
	LogLevel    string

	KafkaBrokers   []string
	PGRUpdateTopic string
	OutboundTopic  string

	DatabaseURL  string
	RedisAddr    string
	OTLPEndpoint string
	ServiceName  string

	EgovServicesHost     string
	LocalizationHost     string
	URLShortenerEndpoint string
	ExternalHost         string
	RootTenantID         string
	Locale               string

	SupportedSource string
	BusinessNumber  string
	Templates       TemplateIDs

	LookupTimeout        time.Duration
	LookupRateLimit      float64
	LookupRateBurst      int
	LocalizationCacheTTL time.Duration
}

func LoadConfig(service string) (*Config, error) {
	cfg := &Config{ServiceName: service}

	httpPort, err := getEnvInt("HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	cfg.HTTPPort = httpPort

	metricsPort, err := getEnvInt("METRICS_PORT", httpPort+1000)
	if err != nil {
		return nil, err
	}
	cfg.MetricsPort = metricsPort

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.OTLPEndpoint = os.Getenv("OTLP_ENDPOINT")

	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	} else {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	cfg.PGRUpdateTopic = getEnv("PGR_UPDATE_TOPIC", "update-pgr-service")
	cfg.OutboundTopic = getEnv("OUTBOUND_TOPIC", "whatsapp-template-messages")

	cfg.EgovServicesHost = withTrailingSlash(getEnv("EGOV_SERVICES_HOST", "http://localhost:8088/"))
	cfg.LocalizationHost = withTrailingSlash(getEnv("LOCALIZATION_HOST", cfg.EgovServicesHost))
	cfg.URLShortenerEndpoint = getEnv("URL_SHORTENER_ENDPOINT", "egov-url-shortening/shortener")
	cfg.ExternalHost = withTrailingSlash(getEnv("EXTERNAL_HOST", "https://egov.example.org/"))
	cfg.RootTenantID = getEnv("ROOT_TENANT_ID", "pb")
	cfg.Locale = getEnv("LOCALE", "en_IN")

	cfg.SupportedSource = getEnv("SUPPORTED_SOURCE", "whatsapp")
	cfg.BusinessNumber = getEnv("WHATSAPP_BUSINESS_NUMBER", "")
	cfg.Templates = TemplateIDs{
		Rejected:   getEnv("REJECTED_TEMPLATE_ID", "pgr_complaint_rejected"),
		Reassigned: getEnv("REASSIGNED_TEMPLATE_ID", "pgr_complaint_reassigned"),
		Assigned:   getEnv("ASSIGNED_TEMPLATE_ID", "pgr_complaint_assigned"),
		Resolved:   getEnv("RESOLVED_TEMPLATE_ID", "pgr_complaint_resolved"),
		Commented:  getEnv("COMMENTED_TEMPLATE_ID", "pgr_complaint_commented"),
	}

	if cfg.LookupTimeout, err = getEnvDuration("LOOKUP_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.LookupRateLimit, err = getEnvFloat("LOOKUP_RATE_LIMIT", 20); err != nil {
		return nil, err
	}
	if cfg.LookupRateBurst, err = getEnvInt("LOOKUP_RATE_BURST", 10); err != nil {
		return nil, err
	}
	if cfg.LocalizationCacheTTL, err = getEnvDuration("LOCALIZATION_CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		return parsed, nil
	}
	return fallback, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		return parsed, nil
	}
	return fallback, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		if parsed <= 0 {
			return 0, fmt.Errorf("invalid value for %s: must be positive", key)
		}
		return parsed, nil
	}
	return fallback, nil
}

func withTrailingSlash(host string) string {
	if strings.HasSuffix(host, "/") {
		return host
	}
	return host + "/"
}

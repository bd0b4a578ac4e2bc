package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type EnvConfig struct {
	ConfigPath               string
	FlowID                   string
	RunOnce                  bool
	AllowPartialSourceErrors bool
	Dedupe                   DedupeEnvConfig
	OTel                     OTelEnvConfig
	RSS                      RSSEnvConfig
	SMTP                     SMTPEnvConfig
}

// DedupeEnvConfig holds the default seen-set capacity for sources that do not
// set their own. Capacity is kept raw so a malformed value can be reported by
// ParsedCapacity instead of silently falling back.
type DedupeEnvConfig struct {
	Capacity string
}

type OTelEnvConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Protocol    string // "grpc" or "http/protobuf"
	Headers     map[string]string
	Insecure    bool
	SampleRatio float64
}

type RSSEnvConfig struct {
	HTTPTimeout time.Duration
	UserAgent   string
}

type SMTPEnvConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	TLSMode            string
	InsecureSkipVerify bool
}

func LoadEnv() EnvConfig {
	otlpEndpoint := strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_ENDPOINT", ""))

	return EnvConfig{
		ConfigPath:               envString("FILEPOLL_CONFIG", "filepoll.yaml"),
		FlowID:                   envString("FLOW_ID", "flow-1"),
		RunOnce:                  envBool("RUN_ONCE", false),
		AllowPartialSourceErrors: envBool("ALLOW_PARTIAL_SOURCE_ERRORS", false),
		Dedupe: DedupeEnvConfig{
			Capacity: envString("DEDUPE_CAPACITY", ""),
		},
		OTel: OTelEnvConfig{
			Enabled:     envBool("OTEL_ENABLED", false),
			ServiceName: strings.TrimSpace(envString("OTEL_SERVICE_NAME", "filepoll")),
			Endpoint:    otlpEndpoint,
			Protocol:    strings.ToLower(strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			Headers:     parseHeaders(envString("OTEL_EXPORTER_OTLP_HEADERS", "")),
			Insecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", defaultInsecure(otlpEndpoint)),
			SampleRatio: clamp01(envFloat("OTEL_TRACES_SAMPLE_RATIO", 1.0)),
		},
		RSS: RSSEnvConfig{
			HTTPTimeout: envDuration("RSS_HTTP_TIMEOUT", 10*time.Second),
			UserAgent:   envString("RSS_USER_AGENT", "filepoll/0.1"),
		},
		SMTP: SMTPEnvConfig{
			Host:               envString("SMTP_HOST", ""),
			Port:               envInt("SMTP_PORT", 587),
			User:               envString("SMTP_USER", ""),
			Password:           envString("SMTP_PASSWORD", ""),
			TLSMode:            envString("SMTP_TLS_MODE", ""),
			InsecureSkipVerify: envBool("SMTP_INSECURE_SKIP_VERIFY", false),
		},
	}
}

// ParsedCapacity returns nil for an unbounded default ("" or "unbounded") and
// an error for anything that is not a positive integer.
func (c DedupeEnvConfig) ParsedCapacity() (*int, error) {
	raw := strings.ToLower(strings.TrimSpace(c.Capacity))
	if raw == "" || raw == "unbounded" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("DEDUPE_CAPACITY %q is not an integer", c.Capacity)
	}
	if n <= 0 {
		return nil, fmt.Errorf("DEDUPE_CAPACITY must be positive, got %d", n)
	}
	return &n, nil
}

// envValue returns the parsed value of key, or fallback when the variable is
// unset, blank or does not parse.
func envValue[T any](key string, fallback T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := parse(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envString(key, fallback string) string {
	return envValue(key, fallback, func(s string) (string, error) { return s, nil })
}

// envBool treats anything but a recognised truthy word as false.
func envBool(key string, fallback bool) bool {
	return envValue(key, fallback, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "1", "true", "yes", "y", "on":
			return true, nil
		}
		return false, nil
	})
}

func envInt(key string, fallback int) int {
	return envValue(key, fallback, strconv.Atoi)
}

func envFloat(key string, fallback float64) float64 {
	return envValue(key, fallback, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func envDuration(key string, fallback time.Duration) time.Duration {
	return envValue(key, fallback, parseDurationExtended)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// parseHeaders reads OTLP headers in the "k1=v1,k2=v2" form, skipping
// malformed pairs.
func parseHeaders(raw string) map[string]string {
	var out map[string]string
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(part, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			continue
		}
		if out == nil {
			out = map[string]string{}
		}
		out[k] = v
	}
	return out
}

func defaultInsecure(endpoint string) bool {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return true
	}
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return u.Scheme == "http"
	}
	return strings.HasPrefix(endpoint, "localhost:") ||
		strings.HasPrefix(endpoint, "127.0.0.1:") ||
		strings.HasPrefix(endpoint, "0.0.0.0:")
}

package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tayteboss/bfl/internal/domain"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultCommerceTimeout    = 8 * time.Second
	defaultRefreshConcurrency = 4
	defaultCatalogPath        = "catalog.yaml"
	defaultPriceCeiling       = "2000.00"
	defaultShippingProperty   = "_return_shipping_required"
	defaultShippingTriggerVal = "Yes"
	defaultSessionTTL         = 2 * time.Hour
	defaultSessionSweep       = 5 * time.Minute
	defaultSessionSweepBatch  = 500
	defaultEventsTopic        = "bfl-cart-events"
	defaultSectionsURL        = "/cart"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server         ServerConfig
	Commerce       CommerceConfig
	Catalog        CatalogConfig
	Pricing        PricingConfig
	ReturnShipping ReturnShippingConfig
	Sessions       SessionConfig
	Events         EventsConfig
	Features       FeatureFlags
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// CommerceConfig points at the storefront cart and product endpoints.
type CommerceConfig struct {
	BaseURL            string
	AccessToken        string
	Timeout            time.Duration
	Sections           []string
	SectionsURL        string
	RefreshConcurrency int
}

// CatalogConfig locates the catalog sources. MarkupPath, when set, is imported in place of the YAML file.
type CatalogConfig struct {
	Path       string
	MarkupPath string
}

// PricingConfig holds the hard per-unit ceiling in minor units.
type PricingConfig struct {
	Ceiling int64
}

// ReturnShippingConfig overrides the catalog's return shipping settings.
type ReturnShippingConfig struct {
	VariantID    int64
	TriggerGroup string
	TriggerValue string
	PropertyName string
}

// SessionConfig controls form session expiry.
type SessionConfig struct {
	TTL            time.Duration
	SweepInterval  time.Duration
	SweepBatchSize int
}

// EventsConfig configures the Pub/Sub forwarder. An empty ProjectID disables forwarding.
type EventsConfig struct {
	ProjectID string
	Topic     string
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	EnableCartGuard bool
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over system
// environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the configuration from defaults, .env overrides, environment variables, and
// secret references, in increasing precedence.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	var invalid []string

	ceiling, err := domain.ParseDecimal(stringWithDefault(lookup, "BFL_PRICE_CEILING", defaultPriceCeiling))
	if err != nil || ceiling <= 0 {
		invalid = append(invalid, "Pricing.Ceiling")
	}

	var shippingVariant int64
	if raw := stringWithDefault(lookup, "BFL_RETURN_SHIPPING_VARIANT_ID", ""); raw != "" {
		shippingVariant, err = strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || shippingVariant <= 0 {
			invalid = append(invalid, "ReturnShipping.VariantID")
		}
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "BFL_SERVER_PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:  durationWithDefault(lookup, "BFL_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "BFL_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "BFL_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Commerce: CommerceConfig{
			BaseURL:            stringWithDefault(lookup, "BFL_COMMERCE_BASE_URL", ""),
			AccessToken:        stringWithDefault(lookup, "BFL_COMMERCE_ACCESS_TOKEN", ""),
			Timeout:            durationWithDefault(lookup, "BFL_COMMERCE_TIMEOUT", defaultCommerceTimeout),
			Sections:           csvWithDefault(lookup, "BFL_COMMERCE_SECTIONS"),
			SectionsURL:        stringWithDefault(lookup, "BFL_COMMERCE_SECTIONS_URL", defaultSectionsURL),
			RefreshConcurrency: intWithDefault(lookup, "BFL_COMMERCE_REFRESH_CONCURRENCY", defaultRefreshConcurrency),
		},
		Catalog: CatalogConfig{
			Path:       stringWithDefault(lookup, "BFL_CATALOG_PATH", defaultCatalogPath),
			MarkupPath: stringWithDefault(lookup, "BFL_CATALOG_MARKUP_PATH", ""),
		},
		Pricing: PricingConfig{Ceiling: ceiling},
		ReturnShipping: ReturnShippingConfig{
			VariantID:    shippingVariant,
			TriggerGroup: stringWithDefault(lookup, "BFL_RETURN_SHIPPING_TRIGGER_GROUP", ""),
			TriggerValue: stringWithDefault(lookup, "BFL_RETURN_SHIPPING_TRIGGER_VALUE", defaultShippingTriggerVal),
			PropertyName: stringWithDefault(lookup, "BFL_RETURN_SHIPPING_PROPERTY", defaultShippingProperty),
		},
		Sessions: SessionConfig{
			TTL:            durationWithDefault(lookup, "BFL_SESSION_TTL", defaultSessionTTL),
			SweepInterval:  durationWithDefault(lookup, "BFL_SESSION_SWEEP_INTERVAL", defaultSessionSweep),
			SweepBatchSize: intWithDefault(lookup, "BFL_SESSION_SWEEP_BATCH", defaultSessionSweepBatch),
		},
		Events: EventsConfig{
			ProjectID: stringWithDefault(lookup, "BFL_EVENTS_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "BFL_EVENTS_TOPIC", defaultEventsTopic),
		},
		Features: FeatureFlags{
			EnableCartGuard: boolWithDefault(lookup, "BFL_FEATURE_CART_GUARD", true),
		},
	}

	token, err := resolveSecret(ctx, cfg.Commerce.AccessToken, options.secret)
	if err != nil {
		return Config{}, err
	}
	cfg.Commerce.AccessToken = token

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Commerce.BaseURL) == "" {
		missing = append(missing, "Commerce.BaseURL")
	}
	if cfg.Commerce.Timeout <= 0 {
		missing = append(missing, "Commerce.Timeout")
	}
	if strings.TrimSpace(cfg.Catalog.Path) == "" && strings.TrimSpace(cfg.Catalog.MarkupPath) == "" {
		missing = append(missing, "Catalog.Path")
	}
	if cfg.Sessions.TTL <= 0 {
		missing = append(missing, "Sessions.TTL")
	}
	if cfg.Sessions.SweepInterval <= 0 {
		missing = append(missing, "Sessions.SweepInterval")
	}
	if cfg.Sessions.SweepBatchSize <= 0 {
		missing = append(missing, "Sessions.SweepBatchSize")
	}
	if cfg.Events.ProjectID != "" && strings.TrimSpace(cfg.Events.Topic) == "" {
		missing = append(missing, "Events.Topic")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

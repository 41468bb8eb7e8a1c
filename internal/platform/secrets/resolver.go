package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/tayteboss/bfl/internal/platform/secrets"
)

var clientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver resolves secret:// references against Secret Manager, caching values for the life of
// the process. When Secret Manager is unreachable or denies access the local fallback file is used.
type Resolver struct {
	client     secretClient
	ownsClient bool
	project    string
	logger     *zap.Logger

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]string

	latency metric.Float64Histogram
}

type resolverConfig struct {
	project      string
	logger       *zap.Logger
	fallbackPath string
	meter        metric.Meter
	client       secretClient
	clientOpts   []option.ClientOption
}

// Option customises Resolver construction.
type Option func(*resolverConfig)

// WithProject sets the project used when a reference carries no ?project= override.
func WithProject(id string) Option {
	return func(c *resolverConfig) { c.project = strings.TrimSpace(id) }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *resolverConfig) { c.logger = logger }
}

// WithFallbackFile overrides the local fallback file. An empty path disables fallback.
func WithFallbackFile(path string) Option {
	return func(c *resolverConfig) { c.fallbackPath = strings.TrimSpace(path) }
}

// WithMeter injects the OpenTelemetry meter used for fetch latency.
func WithMeter(m metric.Meter) Option {
	return func(c *resolverConfig) { c.meter = m }
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(c *resolverConfig) { c.clientOpts = append(c.clientOpts, opts...) }
}

func withClient(client secretClient) Option {
	return func(c *resolverConfig) { c.client = client }
}

// NewResolver builds a Resolver. A Secret Manager client that cannot be created leaves the
// resolver in fallback-only mode rather than failing startup.
func NewResolver(ctx context.Context, opts ...Option) (*Resolver, error) {
	cfg := resolverConfig{fallbackPath: defaultFallbackPath}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(meterName)
	}
	latency, err := cfg.meter.Float64Histogram("secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret resolution by source"),
	)
	if err != nil {
		cfg.logger.Warn("secrets: latency metric unavailable", zap.Error(err))
	}

	r := &Resolver{
		project:      cfg.project,
		logger:       cfg.logger,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]string),
		latency:      latency,
	}
	switch {
	case cfg.client != nil:
		r.client = cfg.client
	case cfg.project != "":
		client, err := clientFactory(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secrets: secret manager unavailable; using fallback file only", zap.Error(err))
		} else {
			r.client = client
			r.ownsClient = true
		}
	}
	return r, nil
}

// Close releases the Secret Manager client when the resolver created it.
func (r *Resolver) Close() error {
	if r.ownsClient && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ResolveSecret resolves ref, e.g. "secret://storefront-token?version=3&project=shop-prod".
func (r *Resolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	r.mu.RLock()
	value, ok := r.cache[parsed.key()]
	r.mu.RUnlock()
	if ok {
		r.record(ctx, start, "cache")
		return value, nil
	}

	project := parsed.project
	if project == "" {
		project = r.project
	}
	if project != "" && r.client != nil {
		name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, parsed.name, parsed.version)
		resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		switch {
		case err == nil && resp.GetPayload() != nil:
			value := string(resp.GetPayload().GetData())
			r.store(parsed, value)
			r.record(ctx, start, "remote")
			return value, nil
		case err == nil:
			return "", fmt.Errorf("secrets: empty payload for %s", parsed.canonical)
		case !fallbackEligible(err):
			r.record(ctx, start, "error")
			return "", fmt.Errorf("secrets: fetch %s: %w", parsed.canonical, err)
		}
		r.logger.Debug("secrets: using fallback", zap.String("ref", parsed.canonical), zap.Error(err))
	}

	value, ok = r.lookupFallback(parsed)
	if !ok {
		r.record(ctx, start, "error")
		return "", fmt.Errorf("secrets: no value for %s", parsed.canonical)
	}
	r.store(parsed, value)
	r.record(ctx, start, "fallback")
	return value, nil
}

func (r *Resolver) store(ref reference, value string) {
	r.mu.Lock()
	r.cache[ref.key()] = value
	r.mu.Unlock()
}

func (r *Resolver) record(ctx context.Context, start time.Time, source string) {
	if r.latency == nil {
		return
	}
	r.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", source)))
}

func (r *Resolver) lookupFallback(ref reference) (string, bool) {
	r.fallbackOnce.Do(r.loadFallback)
	if r.fallbackErr != nil {
		r.logger.Warn("secrets: fallback file unreadable", zap.Error(r.fallbackErr))
		return "", false
	}
	if v, ok := r.fallback[ref.key()]; ok {
		return v, true
	}
	v, ok := r.fallback[ref.canonical]
	return v, ok
}

// loadFallback reads "secret://name=value" lines; sm:// keys are accepted too.
func (r *Resolver) loadFallback() {
	r.fallback = map[string]string{}
	if r.fallbackPath == "" {
		return
	}
	file, err := os.Open(r.fallbackPath)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		r.fallbackErr = err
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if strings.HasPrefix(key, "sm://") {
			key = "secret://" + strings.TrimPrefix(key, "sm://")
		}
		parsed, err := parseReference(key)
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		r.fallback[parsed.canonical] = value
		r.fallback[parsed.key()] = value
	}
	r.fallbackErr = scanner.Err()
}

type reference struct {
	canonical string
	name      string
	version   string
	project   string
}

func (r reference) key() string {
	return r.canonical + "#" + r.version
}

func parseReference(ref string) (reference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	query := u.Query()
	version := strings.TrimSpace(query.Get("version"))
	if version == "" {
		version = "latest"
	}
	return reference{
		canonical: "secret://" + name,
		name:      name,
		version:   version,
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

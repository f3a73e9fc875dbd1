package secrets

import (
	"context"
	"errors"
	"fmt"
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
)

const (
	metricNamespace = "github.com/MeltyDeays/AgroApp-sub000/internal/platform/secrets"
	latestVersion   = "latest"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (secretManagerClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references using Google Secret Manager. Values are cached
// for the life of the process. The client is created on first use so processes without
// secret references never dial Secret Manager.
type Fetcher struct {
	logger      *zap.Logger
	defaultProj string
	clientOpts  []option.ClientOption

	clientMu   sync.Mutex
	client     secretManagerClient
	ownsClient bool

	mu    sync.RWMutex
	cache map[string]string

	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

// Option customises Fetcher construction.
type Option func(*Fetcher)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithDefaultProject sets the project used for references that omit one.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher) {
		f.defaultProj = strings.TrimSpace(projectID)
	}
}

// WithClientOptions forwards Cloud client options when constructing the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(f *Fetcher) {
		f.clientOpts = append(f.clientOpts, opts...)
	}
}

// WithSecretManagerClient injects a preconfigured client (primarily for tests).
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// NewFetcher builds a Fetcher with caching and otel metrics.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		logger: zap.NewNop(),
		cache:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(f)
	}

	meter := otel.GetMeterProvider().Meter(metricNamespace)
	var err error
	if f.latency, err = meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for secret fetch attempts"),
	); err != nil {
		f.logger.Warn("secrets: unable to register latency metric", zap.Error(err))
	}
	if f.cacheHits, err = meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Count of cache hits when resolving secrets"),
	); err != nil {
		f.logger.Warn("secrets: unable to register cache hit metric", zap.Error(err))
	}
	return f
}

// ResolveSecret implements config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve retrieves the secret value for secret://[project/]name[#version].
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseReference(ref, f.defaultProj)
	if err != nil {
		return "", err
	}

	f.mu.RLock()
	value, ok := f.cache[parsed.resourceName()]
	f.mu.RUnlock()
	if ok {
		if f.cacheHits != nil {
			f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", parsed.Secret)))
		}
		f.recordLatency(ctx, start, "cache")
		return value, nil
	}

	client, err := f.secretClient(ctx)
	if err != nil {
		f.recordLatency(ctx, start, "error")
		return "", err
	}
	resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: parsed.resourceName()})
	if err != nil {
		f.recordLatency(ctx, start, "error")
		return "", fmt.Errorf("secrets: fetch failed for %s: %w", parsed.Secret, err)
	}
	if resp.GetPayload() == nil {
		f.recordLatency(ctx, start, "error")
		return "", fmt.Errorf("secrets: empty payload for %s", parsed.Secret)
	}
	value = string(resp.GetPayload().GetData())

	f.mu.Lock()
	f.cache[parsed.resourceName()] = value
	f.mu.Unlock()
	f.recordLatency(ctx, start, "remote")
	f.logger.Debug("secrets: resolved", zap.String("secret", parsed.Secret), zap.String("version", parsed.Version))
	return value, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	f.clientMu.Lock()
	defer f.clientMu.Unlock()
	if f.ownsClient && f.client != nil {
		err := f.client.Close()
		f.client = nil
		return err
	}
	return nil
}

func (f *Fetcher) secretClient(ctx context.Context) (secretManagerClient, error) {
	f.clientMu.Lock()
	defer f.clientMu.Unlock()
	if f.client != nil {
		return f.client, nil
	}
	client, err := secretManagerClientFactory(ctx, f.clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: create secret manager client: %w", err)
	}
	f.client = client
	f.ownsClient = true
	return client, nil
}

func (f *Fetcher) recordLatency(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	f.latency.Record(ctx, float64(time.Since(start).Microseconds())/1000,
		metric.WithAttributes(attribute.String("source", source)))
}

type reference struct {
	Project string
	Secret  string
	Version string
}

func (r reference) resourceName() string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", r.Project, r.Secret, r.Version)
}

var errInvalidReference = errors.New("secrets: invalid secret reference")

func parseReference(ref, defaultProject string) (reference, error) {
	trimmed := strings.TrimSpace(ref)
	switch {
	case strings.HasPrefix(trimmed, "secret://"):
		trimmed = strings.TrimPrefix(trimmed, "secret://")
	case strings.HasPrefix(trimmed, "sm://"):
		trimmed = strings.TrimPrefix(trimmed, "sm://")
	default:
		return reference{}, fmt.Errorf("%w: %q", errInvalidReference, ref)
	}

	path, version, _ := strings.Cut(trimmed, "#")
	out := reference{Project: defaultProject, Version: strings.TrimSpace(version)}
	if out.Version == "" {
		out.Version = latestVersion
	}
	if project, secret, ok := strings.Cut(path, "/"); ok {
		out.Project, out.Secret = strings.TrimSpace(project), strings.TrimSpace(secret)
	} else {
		out.Secret = strings.TrimSpace(path)
	}
	if out.Project == "" || out.Secret == "" || strings.Contains(out.Secret, "/") {
		return reference{}, fmt.Errorf("%w: %q", errInvalidReference, ref)
	}
	return out, nil
}

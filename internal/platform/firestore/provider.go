package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/config"
)

const (
	defaultDialTimeout = 10 * time.Second
	envEmulatorHost    = "FIRESTORE_EMULATOR_HOST"
)

// projectEnvKeys are consulted in order when the config carries no project id.
var projectEnvKeys = []string{"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "FIREBASE_PROJECT_ID"}

// ErrProviderClosed is returned once Close has been called.
var ErrProviderClosed = errors.New("firestore: provider is closed")

type clientFactory func(ctx context.Context, projectID string, opts ...option.ClientOption) (*firestore.Client, error)

// Provider owns the single Firestore client shared by the repositories and the idempotency
// store. The client is dialled on first use so the process can start while Firestore is
// unreachable; readiness reports the failure instead.
type Provider struct {
	cfg         config.FirestoreConfig
	dialTimeout time.Duration
	extraOpts   []option.ClientOption
	txDefaults  []TxOption
	dial        clientFactory

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// ProviderOption customises a Provider.
type ProviderOption func(*Provider)

// WithDialTimeout bounds client creation.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithClientOptions adds Cloud client options such as credentials.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) {
		p.extraOpts = append(p.extraOpts, opts...)
	}
}

// NewProvider builds a Provider from cfg. cfg.TxAttempts and cfg.TxTimeout become the
// defaults of every transaction run through it.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{
		cfg:         cfg,
		dialTimeout: defaultDialTimeout,
		txDefaults:  []TxOption{WithTxAttempts(cfg.TxAttempts), WithTxTimeout(cfg.TxTimeout)},
		dial:        firestore.NewClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// ProjectID resolves the project from the config, then from the usual Cloud env vars.
func (p *Provider) ProjectID() string {
	if id := strings.TrimSpace(p.cfg.ProjectID); id != "" {
		return id
	}
	for _, key := range projectEnvKeys {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	return ""
}

// EmulatorHost is the emulator endpoint from the config or FIRESTORE_EMULATOR_HOST, if any.
func (p *Provider) EmulatorHost() string {
	if host := strings.TrimSpace(p.cfg.EmulatorHost); host != "" {
		return host
	}
	return strings.TrimSpace(os.Getenv(envEmulatorHost))
}

func (p *Provider) clientOptions() []option.ClientOption {
	opts := append([]option.ClientOption(nil), p.extraOpts...)
	host := p.EmulatorHost()
	if host == "" {
		return opts
	}
	return append(opts,
		option.WithoutAuthentication(),
		option.WithEndpoint(host),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
}

// Client returns the shared client, dialling it on first use. A failed dial is retried by
// the next caller.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	}

	projectID := p.ProjectID()
	if projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}
	if host := p.EmulatorHost(); host != "" && os.Getenv(envEmulatorHost) == "" {
		// The Go client only honours the emulator through this variable for some RPCs.
		_ = os.Setenv(envEmulatorHost, host)
	}

	dialCtx, cancel := boundedContext(ctx, p.dialTimeout)
	defer cancel()
	client, err := p.dial(dialCtx, projectID, p.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client for %s: %w", projectID, err)
	}
	p.client = client
	return client, nil
}

// RunTransaction runs fn in a transaction on the shared client using the provider's defaults.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	merged := make([]TxOption, 0, len(p.txDefaults)+len(opts))
	merged = append(merged, p.txDefaults...)
	merged = append(merged, opts...)
	return RunTransaction(ctx, client, fn, merged...)
}

// Close releases the client, giving up when ctx ends first. The Provider is unusable afterwards.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	client := p.client
	p.client, p.closed = nil, true
	p.mu.Unlock()

	if client == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- client.Close() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

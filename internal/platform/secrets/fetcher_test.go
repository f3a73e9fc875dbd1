package secrets

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	calls  map[string]int
	closed bool
}

func newFakeSecretClient(values map[string]string) *fakeSecretClient {
	return &fakeSecretClient{values: values, calls: map[string]int{}}
}

func (f *fakeSecretClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.GetName()]++
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "secret not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (f *fakeSecretClient) Close() error {
	f.closed = true
	return nil
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	client := newFakeSecretClient(map[string]string{
		"projects/agro-prod/secrets/firebase-admin/versions/latest": `{"type":"service_account"}`,
	})
	fetcher := NewFetcher(WithSecretManagerClient(client))

	for i := 0; i < 3; i++ {
		value, err := fetcher.Resolve(context.Background(), "secret://agro-prod/firebase-admin")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if value != `{"type":"service_account"}` {
			t.Fatalf("unexpected value %q", value)
		}
	}
	if calls := client.calls["projects/agro-prod/secrets/firebase-admin/versions/latest"]; calls != 1 {
		t.Fatalf("expected single remote call, got %d", calls)
	}
}

func TestResolveUsesDefaultProjectAndVersion(t *testing.T) {
	client := newFakeSecretClient(map[string]string{
		"projects/agro-dev/secrets/firebase-admin/versions/3": "v3",
	})
	fetcher := NewFetcher(WithSecretManagerClient(client), WithDefaultProject("agro-dev"))

	value, err := fetcher.ResolveSecret(context.Background(), "sm://firebase-admin#3")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if value != "v3" {
		t.Fatalf("expected pinned version, got %q", value)
	}
}

func TestResolveErrors(t *testing.T) {
	fetcher := NewFetcher(WithSecretManagerClient(newFakeSecretClient(nil)))

	if _, err := fetcher.Resolve(context.Background(), "https://not-a-secret"); !errors.Is(err, errInvalidReference) {
		t.Fatalf("expected invalid reference, got %v", err)
	}
	if _, err := fetcher.Resolve(context.Background(), "secret://missing-project"); !errors.Is(err, errInvalidReference) {
		t.Fatalf("expected invalid reference without project, got %v", err)
	}
	_, err := fetcher.Resolve(context.Background(), "secret://agro-prod/absent")
	if status.Code(errors.Unwrap(err)) != codes.NotFound {
		t.Fatalf("expected wrapped NotFound, got %v", err)
	}
}

func TestCloseOnlyClosesOwnedClient(t *testing.T) {
	injected := newFakeSecretClient(nil)
	if err := NewFetcher(WithSecretManagerClient(injected)).Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if injected.closed {
		t.Fatalf("injected client must not be closed by the fetcher")
	}

	created := newFakeSecretClient(map[string]string{"projects/p/secrets/s/versions/latest": "x"})
	original := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (secretManagerClient, error) {
		return created, nil
	}
	t.Cleanup(func() { secretManagerClientFactory = original })

	fetcher := NewFetcher()
	if _, err := fetcher.Resolve(context.Background(), "secret://p/s"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := fetcher.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !created.closed {
		t.Fatalf("expected lazily created client to be closed")
	}
}

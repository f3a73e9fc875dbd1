package firestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"

	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/config"
)

func TestProviderProjectIDFallsBackToEnvironment(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCLOUD_PROJECT", "farm-from-gcloud")
	t.Setenv("FIREBASE_PROJECT_ID", "farm-from-firebase")

	if got := NewProvider(config.FirestoreConfig{ProjectID: " farm-prod "}).ProjectID(); got != "farm-prod" {
		t.Fatalf("expected configured project, got %q", got)
	}
	if got := NewProvider(config.FirestoreConfig{}).ProjectID(); got != "farm-from-gcloud" {
		t.Fatalf("expected GCLOUD_PROJECT fallback, got %q", got)
	}
}

func TestProviderClientRequiresProject(t *testing.T) {
	for _, key := range projectEnvKeys {
		t.Setenv(key, "")
	}
	p := NewProvider(config.FirestoreConfig{})
	p.dial = func(context.Context, string, ...option.ClientOption) (*firestore.Client, error) {
		t.Fatal("dial must not run without a project id")
		return nil, nil
	}
	if _, err := p.Client(context.Background()); err == nil {
		t.Fatal("expected an error without a project id")
	}
}

func TestProviderRetriesFailedDialAndRefusesAfterClose(t *testing.T) {
	t.Setenv(envEmulatorHost, "")
	p := NewProvider(config.FirestoreConfig{ProjectID: "farm-test", EmulatorHost: "127.0.0.1:8681"}, WithDialTimeout(time.Second))

	var calls int
	var gotProject string
	var gotOpts int
	p.dial = func(_ context.Context, projectID string, opts ...option.ClientOption) (*firestore.Client, error) {
		calls++
		gotProject, gotOpts = projectID, len(opts)
		return nil, errors.New("connection refused")
	}

	for i := 0; i < 2; i++ {
		if _, err := p.Client(context.Background()); err == nil {
			t.Fatal("expected dial failure")
		}
	}
	if calls != 2 {
		t.Fatalf("expected the failed dial to be retried, got %d calls", calls)
	}
	if gotProject != "farm-test" || gotOpts != 3 {
		t.Fatalf("expected emulator options for farm-test, got %q with %d options", gotProject, gotOpts)
	}

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
	if err := p.RunTransaction(context.Background(), func(context.Context, *firestore.Transaction) error { return nil }); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed from RunTransaction, got %v", err)
	}
}

func TestBoundedContextKeepsShorterDeadline(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ctx, release := boundedContext(parent, time.Minute)
	defer release()
	if ctx != parent {
		t.Fatal("expected the caller's shorter deadline to be kept")
	}

	ctx, release = boundedContext(context.Background(), time.Second)
	defer release()
	if _, ok := ctx.Deadline(); !ok {
		t.Fatal("expected a deadline to be applied")
	}
}

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"FARM_FIREBASE_PROJECT_ID": "agro-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "agro-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "agro-dev" {
		t.Errorf("expected pubsub project to default to firebase project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrderEventsTopic != "" {
		t.Errorf("expected publishing disabled by default, got topic %q", cfg.PubSub.OrderEventsTopic)
	}
	if cfg.Store.Backend != StoreBackendFirestore {
		t.Errorf("expected firestore backend, got %s", cfg.Store.Backend)
	}
	if cfg.Firestore.TxAttempts != defaultTxAttempts {
		t.Errorf("unexpected tx attempts: %d", cfg.Firestore.TxAttempts)
	}
	if cfg.Fulfillment.ConflictRetries != defaultConflictRetries {
		t.Errorf("unexpected conflict retries: %d", cfg.Fulfillment.ConflictRetries)
	}
	if cfg.Fulfillment.StrictCatalog {
		t.Error("expected strict catalog to be disabled by default")
	}
	if cfg.Fulfillment.DefaultRejectionReason != defaultRejectionReason {
		t.Errorf("unexpected rejection reason: %q", cfg.Fulfillment.DefaultRejectionReason)
	}
	if len(cfg.Security.ApproverRoles) != 2 || cfg.Security.ApproverRoles[0] != "admin" || cfg.Security.ApproverRoles[1] != "staff" {
		t.Errorf("unexpected approver roles: %v", cfg.Security.ApproverRoles)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected info log level, got %s", cfg.Logging.Level)
	}
	if cfg.Idempotency.Header != "Idempotency-Key" || cfg.Idempotency.TTL != 24*time.Hour {
		t.Errorf("unexpected idempotency config: %+v", cfg.Idempotency)
	}
	if cfg.Idempotency.CleanupInterval != 15*time.Minute || cfg.Idempotency.CleanupBatchSize != 200 {
		t.Errorf("unexpected idempotency cleanup: %+v", cfg.Idempotency)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"FARM_SERVER_PORT":                  "9090",
		"FARM_SERVER_READ_TIMEOUT":          "20s",
		"FARM_FIREBASE_PROJECT_ID":          "agro-prod",
		"FARM_FIREBASE_CREDENTIALS_JSON":    "sm://agro-prod/firebase-admin",
		"FARM_FIRESTORE_PROJECT_ID":         "agro-data",
		"FARM_FIRESTORE_TX_ATTEMPTS":        "8",
		"FARM_PUBSUB_ORDER_EVENTS_TOPIC":    "order-events",
		"FARM_FULFILLMENT_STRICT_CATALOG":   "yes",
		"FARM_FULFILLMENT_CONFLICT_RETRIES": "0",
		"FARM_SECURITY_APPROVER_ROLES":      " Admin , Warehouse ",
		"FARM_LOG_LEVEL":                    "DEBUG",
		"FARM_IDEMPOTENCY_HEADER":           "X-Request-Key",
		"FARM_IDEMPOTENCY_CLEANUP_INTERVAL": "0s",
	}

	var requested string
	resolver := SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
		requested = ref
		return `{"type":"service_account"}`, nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if requested != "secret://agro-prod/firebase-admin" {
		t.Fatalf("expected normalised secret ref, got %q", requested)
	}
	if cfg.Firebase.CredentialsJSON != `{"type":"service_account"}` {
		t.Errorf("expected resolved credentials, got %q", cfg.Firebase.CredentialsJSON)
	}
	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "agro-data" || cfg.Firestore.TxAttempts != 8 {
		t.Errorf("unexpected firestore config: %+v", cfg.Firestore)
	}
	if cfg.PubSub.OrderEventsTopic != "order-events" {
		t.Errorf("unexpected topic: %s", cfg.PubSub.OrderEventsTopic)
	}
	if !cfg.Fulfillment.StrictCatalog || cfg.Fulfillment.ConflictRetries != 0 {
		t.Errorf("unexpected fulfillment config: %+v", cfg.Fulfillment)
	}
	if len(cfg.Security.ApproverRoles) != 2 || cfg.Security.ApproverRoles[1] != "warehouse" {
		t.Errorf("unexpected approver roles: %v", cfg.Security.ApproverRoles)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
	if cfg.Idempotency.Header != "X-Request-Key" || cfg.Idempotency.CleanupInterval != 0 {
		t.Errorf("unexpected idempotency config: %+v", cfg.Idempotency)
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := map[string]string{
		"FARM_FIREBASE_PROJECT_ID":       "agro-prod",
		"FARM_FIREBASE_CREDENTIALS_JSON": "secret://agro-prod/firebase-admin",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Errorf("expected resolver not configured, got %v", err)
	}
}

func TestLoadValidation(t *testing.T) {
	env := map[string]string{
		"FARM_STORE_BACKEND":                "postgres",
		"FARM_FULFILLMENT_CONFLICT_RETRIES": "-1",
		"FARM_IDEMPOTENCY_TTL":              "-5m",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := map[string]bool{}
	for _, field := range validationErr.Fields() {
		fields[field] = true
	}
	for _, want := range []string{"Firebase.ProjectID", "Store.Backend", "Fulfillment.ConflictRetries", "Idempotency.TTL"} {
		if !fields[want] {
			t.Errorf("expected %s in validation fields, got %v", want, validationErr.Fields())
		}
	}
}

func TestLoadMemoryBackendSkipsFirestoreFields(t *testing.T) {
	env := map[string]string{
		"FARM_FIREBASE_PROJECT_ID":   "agro-dev",
		"FARM_STORE_BACKEND":         "Memory",
		"FARM_FIRESTORE_TX_ATTEMPTS": "0",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Store.Backend != StoreBackendMemory {
		t.Fatalf("expected memory backend, got %s", cfg.Store.Backend)
	}
}

func TestLoadDotEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nexport FARM_FIREBASE_PROJECT_ID=\"agro-file\"\nFARM_SERVER_PORT=7000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(path),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"FARM_SERVER_PORT": "7100"}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "agro-file" {
		t.Errorf("expected project from env file, got %s", cfg.Firebase.ProjectID)
	}
	if cfg.Server.Port != "7100" {
		t.Errorf("expected explicit map to win, got %s", cfg.Server.Port)
	}
}

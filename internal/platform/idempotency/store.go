package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a replayable response is kept when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// PendingLease bounds how long an unfinished request holds its key.
const PendingLease = 5 * time.Minute

// Status is the lifecycle state of a stored key.
type Status string

const (
	// StatusPending marks a key whose first request is still running.
	StatusPending Status = "pending"
	// StatusCompleted marks a key whose response can be replayed.
	StatusCompleted Status = "completed"
)

// Outcome describes what Reserve found for a key.
type Outcome int

const (
	// OutcomeReserved means the caller owns the key and should run the request.
	OutcomeReserved Outcome = iota
	// OutcomeReplay means a finished response exists and should be written back.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key.
	OutcomeInFlight
)

// Reservation is the result of Reserve.
type Reservation struct {
	Outcome Outcome
	Record  Record
}

// Record is a stored key with its captured response.
type Record struct {
	Key         string
	Fingerprint string
	Status      Status
	StatusCode  int
	Header      map[string][]string
	Body        []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response is the captured HTTP response persisted for replay.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Store persists key reservations and finished responses. Keys passed to a Store are
// already scoped to the caller.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key already used for a different request")

func documentID(key string) string {
	return hashHex([]byte(strings.TrimSpace(key)))
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// pendingRecord holds key for at most PendingLease, so a crashed process frees it long before ttl.
func pendingRecord(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(min(ttl, PendingLease)),
	}
}

// reservationFor decides the outcome for an existing, unexpired record.
func reservationFor(record Record, fingerprint string) (Reservation, error) {
	if record.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if record.Status == StatusCompleted {
		return Reservation{Outcome: OutcomeReplay, Record: record}, nil
	}
	return Reservation{Outcome: OutcomeInFlight, Record: record}, nil
}

// replayableHeader drops hop-by-hop and per-response headers before persisting.
func replayableHeader(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		switch canonical {
		case "Content-Length", "Date", "Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Trailer", "X-Request-Id":
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normaliseTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/auth"
	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/httpx"
	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/requestctx"
)

const (
	// DefaultHeader carries the client supplied key.
	DefaultHeader = "Idempotency-Key"
	// ReplayHeader is set on responses served from the store.
	ReplayHeader = "X-Idempotent-Replay"

	maxKeyLength = 255
)

type middlewareConfig struct {
	header   string
	ttl      time.Duration
	required bool
	clock    func() time.Time
	logger   *zap.Logger
}

// Option customises the middleware.
type Option func(*middlewareConfig)

// WithHeader overrides the request header that carries the key.
func WithHeader(name string) Option {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.header = name
		}
	}
}

// WithTTL sets how long finished responses stay replayable.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithRequired rejects mutating requests that carry no key.
func WithRequired(required bool) Option {
	return func(cfg *middlewareConfig) {
		cfg.required = required
	}
}

// WithLogger sets the fallback logger used when the request has none attached.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware makes POST requests safe to retry. The first request for a key runs the handler
// and stores its response; later requests with the same key and body get that response back.
// Conflicts and server errors are not stored, so a retry runs the handler again. It must be
// mounted after authentication because keys are scoped to the caller.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	cfg := middlewareConfig{
		header: DefaultHeader,
		ttl:    DefaultTTL,
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			logger := cfg.loggerFor(r)

			key := strings.TrimSpace(r.Header.Get(cfg.header))
			switch {
			case key == "" && cfg.required:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", cfg.header+" header is required", http.StatusBadRequest))
				return
			case key == "":
				next.ServeHTTP(w, r)
				return
			case len(key) > maxKeyLength:
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", cfg.header+" header is too long", http.StatusBadRequest))
				return
			}

			body, err := bufferBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}

			caller := callerID(r)
			scoped := key + "|" + caller
			fingerprint := fingerprintOf(r, body, caller)

			reservation, err := store.Reserve(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was already used for a different request", http.StatusUnprocessableEntity))
					return
				}
				logger.Error("idempotency reserve failed", zap.String("key", key), zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("store_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable).AsRetryable())
				return
			}

			switch reservation.Outcome {
			case OutcomeReplay:
				replay(w, reservation.Record)
				return
			case OutcomeInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is still running", http.StatusConflict).AsRetryable())
				return
			}

			// A panicking handler must not leave the key held until its lease runs out.
			finished := false
			defer func() {
				if !finished {
					release(r, store, logger, scoped, fingerprint)
				}
			}()

			rec := &capture{header: make(http.Header)}
			next.ServeHTTP(rec, r)
			finished = true

			if storable(rec.statusCode()) {
				resp := Response{StatusCode: rec.statusCode(), Header: rec.header, Body: rec.body.Bytes()}
				if err := store.Complete(ctx, scoped, fingerprint, resp, cfg.clock().UTC(), cfg.ttl); err != nil {
					logger.Warn("idempotency response not stored", zap.String("key", key), zap.Error(err))
					release(r, store, logger, scoped, fingerprint)
				}
			} else {
				release(r, store, logger, scoped, fingerprint)
			}

			if err := rec.flush(w); err != nil {
				logger.Warn("idempotency response flush failed", zap.String("key", key), zap.Error(err))
			}
		})
	}
}

func (cfg middlewareConfig) loggerFor(r *http.Request) *zap.Logger {
	logger := requestctx.Logger(r.Context())
	if requestctx.IsNoop(logger) && cfg.logger != nil {
		return cfg.logger
	}
	return logger
}

// storable reports whether a response is final. Conflicts and server errors may succeed on retry.
func storable(status int) bool {
	return status < http.StatusInternalServerError && status != http.StatusConflict
}

func release(r *http.Request, store Store, logger *zap.Logger, key, fingerprint string) {
	if err := store.Release(r.Context(), key, fingerprint); err != nil {
		logger.Warn("idempotency release failed", zap.Error(err))
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func callerID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.UID != "" {
		return identity.UID
	}
	return "anonymous"
}

func fingerprintOf(r *http.Request, body []byte, caller string) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('|')
	b.WriteString(r.URL.Path)
	b.WriteByte('|')
	b.WriteString(r.URL.RawQuery)
	b.WriteByte('|')
	b.WriteString(caller)
	b.WriteByte('|')
	if len(body) > 0 {
		b.WriteString(hashHex(body))
	}
	return hashHex([]byte(b.String()))
}

func replay(w http.ResponseWriter, record Record) {
	dst := w.Header()
	for name, values := range record.Header {
		dst[name] = append([]string(nil), values...)
	}
	dst.Set(ReplayHeader, "true")
	status := record.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.Body) > 0 {
		_, _ = w.Write(record.Body)
	}
}

// capture buffers a handler's response so it can be stored before reaching the client.
type capture struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
}

func (c *capture) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(p)
}

func (c *capture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *capture) flush(w http.ResponseWriter) error {
	dst := w.Header()
	for name, values := range c.header {
		dst[name] = values
	}
	w.WriteHeader(c.statusCode())
	if c.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(c.body.Bytes())
	return err
}

// Package paste implements the create and fetch-and-consume operations on top
// of a storage.Store. It owns input validation, id allocation, evaluation of
// the clock and the error taxonomy exposed to the HTTP layer.
package paste

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ttlpaste/internal/clock"
	"ttlpaste/internal/id"
	"ttlpaste/internal/metrics"
	"ttlpaste/internal/storage"
)

const (
	maxIDAttempts      = 5
	healthcheckTimeout = 2 * time.Second
	defaultMaxBytes    = 1 << 20
)

// IDGenerator produces candidate paste ids.
type IDGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// Config wires a Service. Only Store is required.
type Config struct {
	Store    storage.Store
	IDs      IDGenerator
	Clock    clock.Clock
	Logger   *slog.Logger
	MaxBytes int
	Metrics  *metrics.Metrics
}

// Service is safe for concurrent use.
type Service struct {
	store    storage.Store
	ids      IDGenerator
	clock    clock.Clock
	logger   *slog.Logger
	maxBytes int
	metrics  *metrics.Metrics
}

// Consumed is the result of a successful retrieval.
type Consumed struct {
	ID             string
	Content        string
	ExpiresAt      *time.Time
	RemainingViews *int64
}

func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.IDs == nil {
		cfg.IDs = id.New(0)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	return &Service{
		store:    cfg.Store,
		ids:      cfg.IDs,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		maxBytes: cfg.MaxBytes,
		metrics:  cfg.Metrics,
	}, nil
}

// MaxBytes reports the content size limit in bytes.
func (s *Service) MaxBytes() int {
	return s.maxBytes
}

// Now returns the effective time for ctx, honouring a per-request override.
func (s *Service) Now(ctx context.Context) time.Time {
	return clock.FromContext(ctx, s.clock).Now().UTC()
}

// Create validates req and stores a new paste under a freshly generated id.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*storage.Paste, error) {
	const op = "paste.Service.Create"

	if err := req.Validate(s.maxBytes); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.Now(ctx).Truncate(time.Millisecond)
	p := &storage.Paste{
		Content:   req.Content,
		CreatedAt: now,
	}
	if req.TTLSeconds != nil {
		expires := now.Add(time.Duration(*req.TTLSeconds) * time.Second)
		p.ExpiresAt = &expires
	}
	if req.MaxViews != nil {
		limit := *req.MaxViews
		p.MaxViews = &limit
	}

	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		pid, err := s.ids.Generate(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to generate id: %w", op, err)
		}
		p.ID = pid

		err = s.store.Insert(ctx, p)
		if err == nil {
			s.metrics.PasteCreated()
			return p, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%s: failed to insert paste: %w", op, err)
		}
		s.logger.Warn("paste id collision", "id", pid, "attempt", attempt)
	}

	return nil, fmt.Errorf("%s: no free id after %d attempts: %w", op, maxIDAttempts, storage.ErrConflict)
}

// FetchAndConsume returns the paste content and uses up one view. Pastes that
// are absent, expired or exhausted all report ErrNotFound, and such a rejected
// call leaves the view count untouched.
func (s *Service) FetchAndConsume(ctx context.Context, pasteID string) (*Consumed, error) {
	const op = "paste.Service.FetchAndConsume"

	if pasteID == "" {
		s.metrics.PasteNotFound()
		return nil, ErrNotFound
	}

	p, err := s.store.Consume(ctx, pasteID, s.Now(ctx))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.PasteNotFound()
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: failed to consume paste: %w", op, err)
	}

	s.metrics.PasteConsumed()
	return &Consumed{
		ID:             p.ID,
		Content:        p.Content,
		ExpiresAt:      p.ExpiresAt,
		RemainingViews: p.RemainingViews(),
	}, nil
}

// Healthcheck pings the store with a short deadline.
func (s *Service) Healthcheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthcheckTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// Purge physically removes pastes that can no longer be consumed.
func (s *Service) Purge(ctx context.Context) (int, error) {
	const op = "paste.Service.Purge"

	n, err := s.store.DeleteExpired(ctx, s.Now(ctx))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.PastesPurged(n)
	return n, nil
}

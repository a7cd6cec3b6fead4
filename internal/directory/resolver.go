package directory

import (
	"context"
	"log/slog"
	"time"

	"github.com/tariel-x/meshcall/internal/models"
)

// PlaceholderName stands in for any name the directory could not provide.
const PlaceholderName = "Unknown user"

type Source interface {
	Lookup(ctx context.Context, userID string) (string, error)
	LookupMany(ctx context.Context, userIDs []string) (map[string]string, error)
}

type Resolver struct {
	source  Source
	timeout time.Duration
	logger  *slog.Logger
}

func NewResolver(source Source, timeout time.Duration, logger *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Resolver{source: source, timeout: timeout, logger: logger}
}

// DisplayName never fails: lookup errors and timeouts yield PlaceholderName.
func (r *Resolver) DisplayName(ctx context.Context, userID string) string {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		name string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		name, err := r.source.Lookup(ctx, userID)
		done <- result{name, err}
	}()

	select {
	case res := <-done:
		if res.err != nil || res.name == "" {
			r.logger.Debug("directory lookup failed", "user_id", userID, "error", res.err)
			return PlaceholderName
		}
		return res.name
	case <-ctx.Done():
		r.logger.Warn("directory lookup timed out", "user_id", userID)
		return PlaceholderName
	}
}

// DisplayNames resolves ids in order; entries the directory misses get the
// placeholder.
func (r *Resolver) DisplayNames(ctx context.Context, userIDs []string) []models.UserRef {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan map[string]string, 1)
	go func() {
		names, err := r.source.LookupMany(ctx, userIDs)
		if err != nil {
			r.logger.Debug("directory batch lookup failed", "count", len(userIDs), "error", err)
			names = nil
		}
		done <- names
	}()

	var names map[string]string
	select {
	case names = <-done:
	case <-ctx.Done():
		r.logger.Warn("directory batch lookup timed out", "count", len(userIDs))
	}

	refs := make([]models.UserRef, 0, len(userIDs))
	for _, id := range userIDs {
		name := names[id]
		if name == "" {
			name = PlaceholderName
		}
		refs = append(refs, models.UserRef{ID: id, Name: name})
	}
	return refs
}

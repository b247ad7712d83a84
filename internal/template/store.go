package template

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Store persists templates. List never fails: read errors are logged and an
// empty list is returned. Single-item operations return errors.
type Store interface {
	// Active returns the active template, creating the built-in default
	// when the store holds no templates at all. Returns nil, nil when
	// templates exist but none is active.
	Active(ctx context.Context) (*Template, error)

	// List returns all templates, newest first
	List(ctx context.Context) []*Template

	// Get returns the template with id, or nil, nil if it does not exist
	Get(ctx context.Context, id string) (*Template, error)

	// Create stores a new template and sets its ID and timestamps
	Create(ctx context.Context, tmpl *Template) error

	// Update applies p to the template with id and returns the result
	Update(ctx context.Context, id string, p Patch) (*Template, error)

	// Delete removes the template with id
	Delete(ctx context.Context, id string) error

	// Initialize creates the built-in default when the store is empty
	Initialize(ctx context.Context) (*Template, bool, error)
}

// activeResolver is the backend-specific part of Active
type activeResolver interface {
	// activeIndexed looks the active template up through the backend's
	// active-flag query. Returns nil, nil when the query finds nothing.
	activeIndexed(ctx context.Context) (*Template, error)

	// listAll is List with its error
	listAll(ctx context.Context) ([]*Template, error)

	// Initialize inserts the default atomically if the store is empty
	Initialize(ctx context.Context) (*Template, bool, error)
}

func resolveActive(ctx context.Context, r activeResolver, logger *slog.Logger) (*Template, error) {
	tmpl, err := r.activeIndexed(ctx)
	if err != nil {
		logger.Warn("active template query failed, trying full scan", "error", err)
	} else if tmpl != nil {
		return tmpl, nil
	}

	all, err := r.listAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	for _, t := range all {
		if t.IsActive {
			return t, nil
		}
	}

	if len(all) > 0 {
		return nil, nil
	}

	tmpl, created, err := r.Initialize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create default template: %w", err)
	}
	if created {
		logger.Info("created default template", "id", tmpl.ID, "name", tmpl.Name)
	}
	if tmpl == nil || !tmpl.IsActive {
		// Another writer filled the store between the scan and the insert.
		return resolveAfterRace(ctx, r)
	}
	return tmpl, nil
}

func resolveAfterRace(ctx context.Context, r activeResolver) (*Template, error) {
	all, err := r.listAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	for _, t := range all {
		if t.IsActive {
			return t, nil
		}
	}
	return nil, nil
}

// IsNotFound reports whether err is a missing-template error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

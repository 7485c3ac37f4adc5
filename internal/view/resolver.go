// Package view computes the effective view of an issue: its state and labels
// as the user should see them, with unpublished local mutations overlaid on
// the last-synced snapshot.
package view

import (
	"fmt"

	"github.com/jverre/ghoffline/internal/store"
)

// NeutralColor is the placeholder color for label names that are not in the
// last-fetched remote catalog.
const NeutralColor = "ededed"

// Resolver overlays queued mutations onto snapshot values. It is read-only:
// it never writes the mutation queue or the snapshot store, and every call
// recomputes the overlay from durable state.
type Resolver struct {
	store *store.Store
}

// NewResolver creates a resolver over the given store.
func NewResolver(st *store.Store) *Resolver {
	return &Resolver{store: st}
}

// EffectiveState returns the queued pending state for the issue if one
// exists, else the snapshot state.
func (r *Resolver) EffectiveState(repo string, issueNumber int, snapshotState string) (string, error) {
	state, ok, err := r.store.PendingStateChange(repo, issueNumber)
	if err != nil {
		return "", fmt.Errorf("failed to read pending state change: %w", err)
	}
	if ok {
		return state, nil
	}
	return snapshotState, nil
}

// EffectiveLabels returns the queued pending label set for the issue if one
// exists, resolved against the last-fetched remote label catalog, else the
// snapshot labels. Names missing from the catalog get NeutralColor.
func (r *Resolver) EffectiveLabels(repo string, issueNumber int, snapshotLabels []string) ([]store.Label, error) {
	names, ok, err := r.store.PendingLabelUpdate(repo, issueNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending label update: %w", err)
	}
	if !ok {
		names = snapshotLabels
	}

	catalog, err := r.store.LabelCatalog(repo)
	if err != nil {
		return nil, fmt.Errorf("failed to read label catalog: %w", err)
	}
	colors := make(map[string]string, len(catalog))
	for _, l := range catalog {
		colors[l.Name] = l.Color
	}

	labels := make([]store.Label, len(names))
	for i, name := range names {
		color, found := colors[name]
		if !found || color == "" {
			color = NeutralColor
		}
		labels[i] = store.Label{Name: name, Color: color}
	}
	return labels, nil
}

// Package sync provides the synchronization engine between the offline
// snapshot store and the remote issue tracker.
package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/jverre/ghoffline/internal/assets"
	"github.com/jverre/ghoffline/internal/gh"
	"github.com/jverre/ghoffline/internal/logger"
	"github.com/jverre/ghoffline/internal/store"
)

// ErrSyncInProgress is returned when a sync is requested for a repository
// that already has one in flight.
var ErrSyncInProgress = errors.New("sync already in progress for this repository")

// eventBuffer bounds the progress event channel. Events are dropped when the
// buffer is full so a slow consumer can never stall a sync.
const eventBuffer = 64

// Engine drives full and incremental synchronization: it publishes queued
// mutations, pulls remote data, merges it into the snapshot store and
// triggers the asset cache. It is the only component that talks to the
// remote client and writes the snapshot store or mutation queue.
type Engine struct {
	store  *store.Store
	client *gh.Client
	assets *assets.Cache

	mu     gosync.Mutex
	active map[string]bool
	status map[string]Status
	events chan Event
}

// NewEngine creates a new sync engine.
func NewEngine(st *store.Store, client *gh.Client, assetCache *assets.Cache) *Engine {
	return &Engine{
		store:  st,
		client: client,
		assets: assetCache,
		active: make(map[string]bool),
		status: make(map[string]Status),
		events: make(chan Event, eventBuffer),
	}
}

// Events returns the bounded progress event channel.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Status returns a read-only snapshot of a repository's sync state.
func (e *Engine) Status(repo string) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status[repo]
}

// begin acquires the per-repository sync guard.
func (e *Engine) begin(repo string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active[repo] {
		return ErrSyncInProgress
	}
	e.active[repo] = true
	e.status[repo] = Status{State: StateSyncing}
	return nil
}

// finish releases the guard and records the outcome.
func (e *Engine) finish(repo string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.active, repo)
	if err != nil {
		e.status[repo] = Status{State: StateFailed, Err: err.Error()}
	} else {
		e.status[repo] = Status{State: StateIdle}
	}
}

// setPhase records phase progress and emits a non-blocking event.
func (e *Engine) setPhase(repo string, phase Phase, item, total int) {
	e.mu.Lock()
	e.status[repo] = Status{State: StateSyncing, Phase: phase, Item: item, Total: total}
	e.mu.Unlock()

	select {
	case e.events <- Event{Repo: repo, Phase: phase, Item: item, Total: total}:
	default:
		// Nobody draining; drop rather than stall the sync.
	}
}

// FullSync publishes queued mutations, fetches the complete remote state for
// the repository and atomically replaces the offline snapshot. On any error
// the previous snapshot remains authoritative.
func (e *Engine) FullSync(repoKey string) error {
	repo, err := store.ParseRepoKey(repoKey)
	if err != nil {
		return err
	}
	if err := e.begin(repoKey); err != nil {
		return err
	}

	err = e.fullSync(repo)
	e.finish(repoKey, err)
	return err
}

// IncrementalSync publishes queued mutations, fetches only issues changed
// since the last sync and merges them into the existing snapshot. Behaves as
// FullSync when no prior cursor exists.
func (e *Engine) IncrementalSync(repoKey string) error {
	repo, err := store.ParseRepoKey(repoKey)
	if err != nil {
		return err
	}
	if err := e.begin(repoKey); err != nil {
		return err
	}

	err = e.incrementalSync(repo)
	e.finish(repoKey, err)
	return err
}

func (e *Engine) fullSync(repo store.Repository) error {
	key := repo.Key()
	logger.Debug("sync: starting full sync for %s", key)

	if err := e.publishMutations(repo); err != nil {
		return err
	}

	e.setPhase(key, PhaseFetchingLabels, 0, 0)
	labels, err := e.client.ListLabels(repo.Owner, repo.Name)
	if err != nil {
		return fmt.Errorf("failed to fetch labels: %w", err)
	}
	if err := e.store.ReplaceLabelCatalog(key, labelsFromRemote(labels)); err != nil {
		return fmt.Errorf("failed to store label catalog: %w", err)
	}

	issues, comments, err := e.fetchIssues(repo, time.Time{})
	if err != nil {
		return err
	}

	e.setPhase(key, PhaseCachingAssets, 0, 0)
	e.assets.CacheAllAssetsIn(issues, comments, key, func(done, total int) {
		e.setPhase(key, PhaseCachingAssets, done, total)
	})

	if err := e.store.ReplaceSnapshot(key, issues, comments, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}

	logger.Debug("sync: full sync complete for %s (%d issues)", key, len(issues))
	return nil
}

func (e *Engine) incrementalSync(repo store.Repository) error {
	key := repo.Key()

	since, ok, err := e.store.LastSynced(key)
	if err != nil {
		return err
	}
	if !ok {
		logger.Debug("sync: no cursor for %s, falling back to full sync", key)
		return e.fullSync(repo)
	}

	logger.Debug("sync: starting incremental sync for %s since %s", key, since.Format(time.RFC3339))

	if err := e.publishMutations(repo); err != nil {
		return err
	}

	delta, deltaComments, err := e.fetchIssues(repo, since)
	if err != nil {
		return err
	}

	existing, err := e.store.ListIssues(key)
	if err != nil {
		return fmt.Errorf("failed to read existing snapshot: %w", err)
	}

	merged := MergeIssues(existing, delta)

	// Comments for issues outside the delta are preserved from the prior
	// snapshot; the delta's comments replace wholesale at their numbers.
	inDelta := make(map[int]bool, len(delta))
	for _, issue := range delta {
		inDelta[issue.Number] = true
	}
	mergedComments := make(map[int][]store.Comment, len(merged))
	for _, issue := range merged {
		if inDelta[issue.Number] {
			mergedComments[issue.Number] = deltaComments[issue.Number]
			continue
		}
		kept, err := e.store.GetComments(key, issue.Number)
		if err != nil {
			return fmt.Errorf("failed to read comments for issue #%d: %w", issue.Number, err)
		}
		mergedComments[issue.Number] = kept
	}

	e.setPhase(key, PhaseCachingAssets, 0, 0)
	e.assets.CacheAllAssetsIn(delta, deltaComments, key, func(done, total int) {
		e.setPhase(key, PhaseCachingAssets, done, total)
	})

	if err := e.store.ReplaceSnapshot(key, merged, mergedComments, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}

	logger.Debug("sync: incremental sync complete for %s (%d changed, %d total)", key, len(delta), len(merged))
	return nil
}

// MergeIssues merges a fetched delta into an existing issue set, keyed by
// issue number. The merge is right-biased: the delta wins wherever both hold
// the same number, and issues absent from the delta are preserved unchanged.
func MergeIssues(existing, delta []store.Issue) []store.Issue {
	merged := make([]store.Issue, 0, len(existing)+len(delta))
	position := make(map[int]int, len(existing))

	for _, issue := range existing {
		position[issue.Number] = len(merged)
		merged = append(merged, issue)
	}
	for _, issue := range delta {
		if i, ok := position[issue.Number]; ok {
			merged[i] = issue
			continue
		}
		position[issue.Number] = len(merged)
		merged = append(merged, issue)
	}
	return merged
}

// publishMutations pushes all queued mutations for the repository, in order:
// state changes, label updates, new issues, then replies. Each successful
// remote call immediately removes that one entry from durable storage, so an
// aborted batch leaves only the unconfirmed tail queued. The first failure
// aborts the whole sync.
func (e *Engine) publishMutations(repo store.Repository) error {
	key := repo.Key()

	mutations, err := e.store.PendingMutations(key)
	if err != nil {
		return fmt.Errorf("failed to read mutation queue: %w", err)
	}
	if len(mutations) == 0 {
		logger.Debug("sync: no pending mutations for %s", key)
		return nil
	}

	logger.Debug("sync: publishing %d pending mutations for %s", len(mutations), key)
	e.setPhase(key, PhasePublishing, 0, len(mutations))

	for i, m := range mutations {
		e.setPhase(key, PhasePublishing, i+1, len(mutations))

		if err := e.publishOne(repo, m); err != nil {
			return err
		}
		if err := e.store.DequeueMutation(m.ID); err != nil {
			return fmt.Errorf("failed to dequeue mutation %s: %w", m.ID, err)
		}
	}

	return nil
}

// publishOne sends a single queued mutation to the remote source.
func (e *Engine) publishOne(repo store.Repository, m store.Mutation) error {
	switch m.Kind {
	case store.KindStateChange:
		var p store.StateChangePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode state change: %w", err)
		}
		if err := e.client.SetIssueState(repo.Owner, repo.Name, m.IssueNumber, p.State); err != nil {
			return fmt.Errorf("failed to publish state change for issue #%d: %w", m.IssueNumber, err)
		}

	case store.KindLabelUpdate:
		var p store.LabelUpdatePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode label update: %w", err)
		}
		if err := e.client.ReplaceLabels(repo.Owner, repo.Name, m.IssueNumber, p.Labels); err != nil {
			return fmt.Errorf("failed to publish label update for issue #%d: %w", m.IssueNumber, err)
		}

	case store.KindNewIssue:
		var p store.NewIssuePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode new issue: %w", err)
		}
		// The created issue is not written back here; it appears on the
		// next snapshot fetch.
		if _, err := e.client.CreateIssue(repo.Owner, repo.Name, p.Title, p.Body, p.Labels); err != nil {
			return fmt.Errorf("failed to publish new issue %q: %w", p.Title, err)
		}

	case store.KindReply:
		var p store.ReplyPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode reply: %w", err)
		}
		if _, err := e.client.CreateComment(repo.Owner, repo.Name, m.IssueNumber, p.Body); err != nil {
			return fmt.Errorf("failed to publish reply for issue #%d: %w", m.IssueNumber, err)
		}

	default:
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}

	return nil
}

// fetchIssues pulls issues (and their comments) from the remote, filtering
// out the pull requests the issues endpoint conflates with issues. A zero
// since fetches everything.
func (e *Engine) fetchIssues(repo store.Repository, since time.Time) ([]store.Issue, map[int][]store.Comment, error) {
	key := repo.Key()

	remote, err := e.client.ListIssues(repo.Owner, repo.Name, since)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list issues: %w", err)
	}

	filtered := remote[:0]
	for _, issue := range remote {
		if issue.IsPullRequest() {
			continue
		}
		filtered = append(filtered, issue)
	}

	logger.Debug("sync: fetched %d issues for %s", len(filtered), key)

	issues := make([]store.Issue, 0, len(filtered))
	comments := make(map[int][]store.Comment, len(filtered))

	for i, remoteIssue := range filtered {
		e.setPhase(key, PhaseFetchingIssues, i+1, len(filtered))

		issues = append(issues, issueFromRemote(key, remoteIssue))

		if remoteIssue.Comments == 0 {
			continue
		}
		remoteComments, err := e.client.ListComments(repo.Owner, repo.Name, remoteIssue.Number)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list comments for issue #%d: %w", remoteIssue.Number, err)
		}
		comments[remoteIssue.Number] = commentsFromRemote(key, remoteIssue.Number, remoteComments)
	}

	return issues, comments, nil
}

// issueFromRemote converts a remote issue into a snapshot record.
func issueFromRemote(repoKey string, issue gh.Issue) store.Issue {
	labels := make([]string, len(issue.Labels))
	for i, l := range issue.Labels {
		labels[i] = l.Name
	}

	return store.Issue{
		Number:    issue.Number,
		Repo:      repoKey,
		Title:     issue.Title,
		Body:      issue.Body,
		State:     issue.State,
		Author:    issue.User.Login,
		Labels:    labels,
		CreatedAt: issue.CreatedAt.Format(time.RFC3339),
		UpdatedAt: issue.UpdatedAt.Format(time.RFC3339),
	}
}

// commentsFromRemote converts remote comments into snapshot records.
func commentsFromRemote(repoKey string, issueNumber int, remote []gh.Comment) []store.Comment {
	comments := make([]store.Comment, len(remote))
	for i, c := range remote {
		comments[i] = store.Comment{
			ID:          c.ID,
			IssueNumber: issueNumber,
			Repo:        repoKey,
			Author:      c.User.Login,
			Body:        c.Body,
			CreatedAt:   c.CreatedAt.Format(time.RFC3339),
			UpdatedAt:   c.UpdatedAt.Format(time.RFC3339),
		}
	}
	return comments
}

// labelsFromRemote converts the remote label catalog into store records.
func labelsFromRemote(remote []gh.Label) []store.Label {
	labels := make([]store.Label, len(remote))
	for i, l := range remote {
		labels[i] = store.Label{Name: l.Name, Color: l.Color}
	}
	return labels
}

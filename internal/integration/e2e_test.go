// Package integration exercises the full offline workflow end to end:
// initial sync, offline edits, publication, and incremental re-sync against
// a mock API server.
package integration

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jverre/ghoffline/internal/assets"
	"github.com/jverre/ghoffline/internal/gh"
	"github.com/jverre/ghoffline/internal/store"
	"github.com/jverre/ghoffline/internal/sync"
	"github.com/jverre/ghoffline/internal/view"
)

type testEnv struct {
	store  *store.Store
	server *gh.MockServer
	engine *sync.Engine
	assets *assets.Cache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ms := gh.NewMockServer()
	t.Cleanup(ms.Close)

	client := gh.NewWithBaseURL("test-token", ms.URL)
	cache := assets.New(st, filepath.Join(t.TempDir(), "assets"))

	return &testEnv{
		store:  st,
		server: ms,
		engine: sync.NewEngine(st, client, cache),
		assets: cache,
	}
}

func TestOfflineWorkflow(t *testing.T) {
	env := newTestEnv(t)
	key := "acme/widgets"

	env.server.SetLabels([]gh.Label{
		{Name: "bug", Color: "ff0000"},
		{Name: "feature", Color: "00ff00"},
	})
	env.server.AddIssue(&gh.Issue{
		Number: 1, Title: "first", Body: "body one", State: "open",
		Labels:    []gh.Label{{Name: "bug", Color: "ff0000"}},
		User:      gh.User{Login: "alice"},
		UpdatedAt: time.Now().Add(-time.Hour),
	})
	env.server.AddIssue(&gh.Issue{
		Number: 2, Title: "second", Body: "body two", State: "open",
		User:      gh.User{Login: "bob"},
		UpdatedAt: time.Now().Add(-time.Hour),
	})
	env.server.AddComment(1, gh.Comment{ID: 10, Body: "existing comment", User: gh.User{Login: "bob"}})

	if err := env.store.AddRepository(store.Repository{Owner: "acme", Name: "widgets"}); err != nil {
		t.Fatalf("AddRepository failed: %v", err)
	}

	// Initial full sync.
	if err := env.engine.FullSync(key); err != nil {
		t.Fatalf("FullSync failed: %v", err)
	}

	issues, err := env.store.ListIssues(key)
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("got %d issues after full sync, want 2", len(issues))
	}

	// Work offline: close #1, retag #2, reply to #1, draft a new issue.
	if err := env.store.EnqueueStateChange(key, 1, "closed"); err != nil {
		t.Fatalf("EnqueueStateChange failed: %v", err)
	}
	if err := env.store.EnqueueLabelUpdate(key, 2, []string{"feature"}); err != nil {
		t.Fatalf("EnqueueLabelUpdate failed: %v", err)
	}
	if err := env.store.EnqueueReply(key, 1, "done offline"); err != nil {
		t.Fatalf("EnqueueReply failed: %v", err)
	}
	if err := env.store.EnqueueNewIssue(key, "drafted offline", "draft body", []string{"bug"}); err != nil {
		t.Fatalf("EnqueueNewIssue failed: %v", err)
	}

	// Local reads reflect the queued edits before any publication.
	resolver := view.NewResolver(env.store)
	state, err := resolver.EffectiveState(key, 1, "open")
	if err != nil {
		t.Fatalf("EffectiveState failed: %v", err)
	}
	if state != "closed" {
		t.Errorf("effective state of #1 = %q, want closed", state)
	}
	labels, err := resolver.EffectiveLabels(key, 2, nil)
	if err != nil {
		t.Fatalf("EffectiveLabels failed: %v", err)
	}
	if len(labels) != 1 || labels[0].Name != "feature" || labels[0].Color != "00ff00" {
		t.Errorf("effective labels of #2 = %+v, want feature/00ff00", labels)
	}

	// Back online: incremental sync publishes the queue then merges.
	if err := env.engine.IncrementalSync(key); err != nil {
		t.Fatalf("IncrementalSync failed: %v", err)
	}

	pending, err := env.store.PendingMutations(key)
	if err != nil {
		t.Fatalf("PendingMutations failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("queue not drained, %d entries remain", len(pending))
	}

	// Remote reflects every queued edit.
	if got := env.server.GetIssue(1).State; got != "closed" {
		t.Errorf("remote #1 state = %q, want closed", got)
	}
	remoteLabels := env.server.GetIssue(2).Labels
	if len(remoteLabels) != 1 || remoteLabels[0].Name != "feature" {
		t.Errorf("remote #2 labels = %+v, want feature", remoteLabels)
	}
	if env.server.GetIssue(3) == nil {
		t.Error("drafted issue was not created remotely")
	}

	// Merged snapshot carries the published edits back down.
	one, err := env.store.GetIssue(key, 1)
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if one == nil || one.State != "closed" {
		t.Errorf("snapshot #1 = %+v, want closed", one)
	}

	comments, err := env.store.GetComments(key, 1)
	if err != nil {
		t.Fatalf("GetComments failed: %v", err)
	}
	bodies := make(map[string]bool, len(comments))
	for _, c := range comments {
		bodies[c.Body] = true
	}
	if !bodies["existing comment"] || !bodies["done offline"] {
		t.Errorf("snapshot comments for #1 = %+v, want existing plus published reply", comments)
	}

	// The drafted issue now appears as a regular snapshot row.
	three, err := env.store.GetIssue(key, 3)
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if three == nil || three.Title != "drafted offline" {
		t.Errorf("snapshot #3 = %+v, want the drafted issue", three)
	}

	// With the queue empty, effective views fall through to the snapshot.
	state, err = resolver.EffectiveState(key, 1, one.State)
	if err != nil {
		t.Fatalf("EffectiveState failed: %v", err)
	}
	if state != "closed" {
		t.Errorf("effective state after publish = %q, want closed", state)
	}
}

func TestIncrementalSync_PicksUpRemoteEdits(t *testing.T) {
	env := newTestEnv(t)
	key := "acme/widgets"

	base := time.Now().Add(-2 * time.Hour).UTC()
	env.server.AddIssue(&gh.Issue{Number: 1, Title: "first", State: "open", UpdatedAt: base})
	env.server.AddIssue(&gh.Issue{Number: 2, Title: "second", State: "open", UpdatedAt: base})

	if err := env.engine.FullSync(key); err != nil {
		t.Fatalf("FullSync failed: %v", err)
	}

	// Someone edits #2 remotely after the cursor.
	env.server.AddIssue(&gh.Issue{
		Number: 2, Title: "second (edited)", State: "closed",
		UpdatedAt: time.Now().Add(time.Hour).UTC(),
	})

	if err := env.engine.IncrementalSync(key); err != nil {
		t.Fatalf("IncrementalSync failed: %v", err)
	}

	one, err := env.store.GetIssue(key, 1)
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if one == nil || one.Title != "first" {
		t.Errorf("untouched issue lost: %+v", one)
	}

	two, err := env.store.GetIssue(key, 2)
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if two == nil || two.Title != "second (edited)" || two.State != "closed" {
		t.Errorf("remote edit not merged: %+v", two)
	}
}

func TestSyncFailureLeavesLocalEditsIntact(t *testing.T) {
	env := newTestEnv(t)
	key := "acme/widgets"

	env.server.AddIssue(&gh.Issue{Number: 1, Title: "first", State: "open", UpdatedAt: time.Now().Add(-time.Hour)})
	if err := env.engine.FullSync(key); err != nil {
		t.Fatalf("FullSync failed: %v", err)
	}

	if err := env.store.EnqueueStateChange(key, 1, "closed"); err != nil {
		t.Fatalf("EnqueueStateChange failed: %v", err)
	}

	// Publication fails; the queue and snapshot both survive.
	env.server.FailOn("PATCH", "/repos/acme/widgets/issues/1", 500)
	if err := env.engine.IncrementalSync(key); err == nil {
		t.Fatal("expected sync to fail while publication is failing")
	}

	pending, err := env.store.PendingMutations(key)
	if err != nil {
		t.Fatalf("PendingMutations failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("queue = %d entries, want the unpublished change intact", len(pending))
	}

	issues, err := env.store.ListIssues(key)
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
	if len(issues) != 1 {
		t.Errorf("snapshot lost after failed sync: %d issues", len(issues))
	}

	// Next attempt succeeds and drains the queue.
	env.server.ClearFailures()
	if err := env.engine.IncrementalSync(key); err != nil {
		t.Fatalf("retry IncrementalSync failed: %v", err)
	}
	pending, err = env.store.PendingMutations(key)
	if err != nil {
		t.Fatalf("PendingMutations failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("queue not drained on retry: %d entries", len(pending))
	}
	if got := env.server.GetIssue(1).State; got != "closed" {
		t.Errorf("remote state = %q, want closed", got)
	}
}

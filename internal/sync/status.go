package sync

// Phase labels a coarse stage of a running sync.
type Phase string

const (
	// PhasePublishing covers pushing queued local mutations.
	PhasePublishing Phase = "publishing mutations"
	// PhaseFetchingLabels covers fetching the remote label catalog.
	PhaseFetchingLabels Phase = "fetching labels"
	// PhaseFetchingIssues covers the paged issue and comment fetch.
	PhaseFetchingIssues Phase = "syncing issues"
	// PhaseCachingAssets covers downloading referenced images.
	PhaseCachingAssets Phase = "caching images"
)

// StateKind is the top-level sync state of a repository.
type StateKind int

const (
	// StateIdle means no sync is running and the last one (if any) succeeded.
	StateIdle StateKind = iota
	// StateSyncing means a sync is in flight.
	StateSyncing
	// StateFailed means the last sync aborted; Err holds the message.
	StateFailed
)

// Status is a read-only snapshot of a repository's sync state.
// Within a syncing phase, Item/Total report fine per-item progress.
type Status struct {
	State StateKind
	Phase Phase
	Item  int
	Total int
	Err   string
}

// Event is a progress notification emitted on the engine's bounded event
// channel. Events are dropped rather than blocking the sync when no one is
// draining the channel.
type Event struct {
	Repo  string
	Phase Phase
	Item  int
	Total int
}

// Package store provides SQLite-based persistence for the offline issue cache:
// repository snapshots, the pending mutation queue, the remote label catalog
// and the cached asset index.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is a SQLite database holding all durable state.
type Store struct {
	path string
	conn *sql.DB
}

// Repository identifies a tracked repository.
type Repository struct {
	Owner string
	Name  string
}

// Key returns the "owner/name" identity used throughout the store.
func (r Repository) Key() string {
	return r.Owner + "/" + r.Name
}

// ParseRepoKey splits "owner/name" into a Repository.
func ParseRepoKey(key string) (Repository, error) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repository{}, fmt.Errorf("invalid repo format %q: must be owner/repo", key)
	}
	return Repository{Owner: parts[0], Name: parts[1]}, nil
}

// Issue is a snapshot of a remote issue. Snapshots are replaced wholesale
// for a given number on each sync that touches them.
type Issue struct {
	Number    int
	Repo      string
	Title     string
	Body      string
	State     string
	Author    string
	Labels    []string // Stored as JSON array in database
	CreatedAt string
	UpdatedAt string
	SyncedAt  string
}

// Comment is a snapshot of a remote issue comment.
type Comment struct {
	ID          int64
	IssueNumber int
	Repo        string
	Author      string
	Body        string
	CreatedAt   string
	UpdatedAt   string
}

// Label is an entry in the remote label catalog.
type Label struct {
	Name  string
	Color string
}

// Asset records a downloaded image, unique by URL across the whole cache.
// The repo tag exists only so assets can be cleaned up with their repository.
type Asset struct {
	URL       string
	LocalPath string
	Repo      string
	CachedAt  string
}

// Mutation kinds. The order of publication is state changes, then label
// updates, then new issues, then replies.
const (
	KindStateChange = "state_change"
	KindLabelUpdate = "label_update"
	KindNewIssue    = "new_issue"
	KindReply       = "reply"
)

// Mutation is a queued local change waiting to be published.
// IssueNumber is zero for new_issue mutations.
type Mutation struct {
	ID          string
	Repo        string
	IssueNumber int
	Kind        string
	Payload     json.RawMessage
	CreatedAt   string
}

// StateChangePayload is the payload for KindStateChange mutations.
type StateChangePayload struct {
	State string `json:"state"`
}

// LabelUpdatePayload is the payload for KindLabelUpdate mutations.
// Labels is the full desired label set, not a delta.
type LabelUpdatePayload struct {
	Labels []string `json:"labels"`
}

// NewIssuePayload is the payload for KindNewIssue mutations.
type NewIssuePayload struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"`
}

// ReplyPayload is the payload for KindReply mutations.
type ReplyPayload struct {
	Body string `json:"body"`
}

const createRepositoriesTableSQL = `
CREATE TABLE IF NOT EXISTS repositories (
    owner TEXT NOT NULL,
    name TEXT NOT NULL,
    added_at TEXT,
    UNIQUE(owner, name)
);
`

const createSyncStateTableSQL = `
CREATE TABLE IF NOT EXISTS sync_state (
    repo TEXT PRIMARY KEY,
    last_synced TEXT NOT NULL
);
`

const createIssuesTableSQL = `
CREATE TABLE IF NOT EXISTS issues (
    id INTEGER PRIMARY KEY,
    number INTEGER NOT NULL,
    repo TEXT NOT NULL,
    title TEXT NOT NULL,
    body TEXT,
    state TEXT,
    author TEXT,
    labels TEXT,  -- JSON array of label names
    created_at TEXT,
    updated_at TEXT,
    synced_at TEXT,
    UNIQUE(repo, number)
);
`

const createCommentsTableSQL = `
CREATE TABLE IF NOT EXISTS comments (
    id INTEGER NOT NULL,
    issue_number INTEGER NOT NULL,
    repo TEXT NOT NULL,
    author TEXT NOT NULL,
    body TEXT,
    created_at TEXT,
    updated_at TEXT,
    UNIQUE(repo, issue_number, id)
);
`

const createMutationsTableSQL = `
CREATE TABLE IF NOT EXISTS mutations (
    id TEXT PRIMARY KEY,
    repo TEXT NOT NULL,
    issue_number INTEGER NOT NULL DEFAULT 0,
    kind TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at TEXT NOT NULL
);
`

const createLabelsTableSQL = `
CREATE TABLE IF NOT EXISTS labels (
    repo TEXT NOT NULL,
    name TEXT NOT NULL,
    color TEXT,
    UNIQUE(repo, name)
);
`

const createAssetsTableSQL = `
CREATE TABLE IF NOT EXISTS assets (
    url TEXT PRIMARY KEY,
    local_path TEXT NOT NULL,
    repo TEXT NOT NULL,
    cached_at TEXT
);
`

// Open creates or opens a SQLite database at the given path and initializes
// the schema.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer, so we limit to one connection
	// to prevent "database is locked" errors.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	for _, ddl := range []string{
		createRepositoriesTableSQL,
		createSyncStateTableSQL,
		createIssuesTableSQL,
		createCommentsTableSQL,
		createMutationsTableSQL,
		createLabelsTableSQL,
		createAssetsTableSQL,
	} {
		if _, err := conn.Exec(ddl); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return &Store{
		path: path,
		conn: conn,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// AddRepository registers a repository for offline tracking.
func (s *Store) AddRepository(repo Repository) error {
	addedAt := time.Now().UTC().Format(time.RFC3339)

	_, err := s.conn.Exec(
		"INSERT OR IGNORE INTO repositories (owner, name, added_at) VALUES (?, ?, ?)",
		repo.Owner, repo.Name, addedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add repository: %w", err)
	}
	return nil
}

// RemoveRepository deletes a repository and everything owned by it: snapshot
// issues and comments, queued mutations, the label catalog and cached assets.
func (s *Store) RemoveRepository(repo Repository) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	key := repo.Key()
	if _, err := tx.Exec("DELETE FROM repositories WHERE owner = ? AND name = ?", repo.Owner, repo.Name); err != nil {
		return fmt.Errorf("failed to remove repository: %w", err)
	}
	for _, stmt := range []string{
		"DELETE FROM issues WHERE repo = ?",
		"DELETE FROM comments WHERE repo = ?",
		"DELETE FROM mutations WHERE repo = ?",
		"DELETE FROM labels WHERE repo = ?",
		"DELETE FROM assets WHERE repo = ?",
		"DELETE FROM sync_state WHERE repo = ?",
	} {
		if _, err := tx.Exec(stmt, key); err != nil {
			return fmt.Errorf("failed to remove repository data: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListRepositories returns all tracked repositories.
func (s *Store) ListRepositories() ([]Repository, error) {
	rows, err := s.conn.Query("SELECT owner, name FROM repositories ORDER BY owner, name")
	if err != nil {
		return nil, fmt.Errorf("failed to query repositories: %w", err)
	}
	defer rows.Close()

	var repos []Repository
	for rows.Next() {
		var r Repository
		if err := rows.Scan(&r.Owner, &r.Name); err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating repository rows: %w", err)
	}
	return repos, nil
}

// LastSynced returns the sync cursor for a repository.
// ok is false when the repository has never completed a sync.
func (s *Store) LastSynced(repo string) (time.Time, bool, error) {
	var raw string
	err := s.conn.QueryRow("SELECT last_synced FROM sync_state WHERE repo = ?", repo).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query sync state: %w", err)
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse last_synced: %w", err)
	}
	return t, true, nil
}

// ReplaceSnapshot atomically replaces a repository's entire snapshot with the
// given issues and comments and advances the last_synced cursor. Either the
// whole new snapshot is visible or the old one is.
func (s *Store) ReplaceSnapshot(repo string, issues []Issue, comments map[int][]Comment, syncedAt time.Time) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM issues WHERE repo = ?", repo); err != nil {
		return fmt.Errorf("failed to clear issues: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM comments WHERE repo = ?", repo); err != nil {
		return fmt.Errorf("failed to clear comments: %w", err)
	}

	stamp := syncedAt.UTC().Format(time.RFC3339)
	for _, issue := range issues {
		issue.Repo = repo
		issue.SyncedAt = stamp
		if err := insertIssueTx(tx, issue); err != nil {
			return err
		}
		if err := insertCommentsTx(tx, repo, issue.Number, comments[issue.Number]); err != nil {
			return err
		}
	}

	if err := setLastSyncedTx(tx, repo, stamp); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// setLastSyncedTx advances the sync cursor inside an open transaction.
func setLastSyncedTx(tx *sql.Tx, repo, stamp string) error {
	_, err := tx.Exec(
		"INSERT OR REPLACE INTO sync_state (repo, last_synced) VALUES (?, ?)",
		repo, stamp,
	)
	if err != nil {
		return fmt.Errorf("failed to set last_synced: %w", err)
	}
	return nil
}

// insertIssueTx upserts a single issue snapshot inside an open transaction.
func insertIssueTx(tx *sql.Tx, issue Issue) error {
	labelsJSON, err := json.Marshal(issue.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO issues (
			number, repo, title, body, state, author, labels,
			created_at, updated_at, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.Exec(query,
		issue.Number,
		issue.Repo,
		issue.Title,
		sql.NullString{String: issue.Body, Valid: issue.Body != ""},
		sql.NullString{String: issue.State, Valid: issue.State != ""},
		sql.NullString{String: issue.Author, Valid: issue.Author != ""},
		string(labelsJSON),
		sql.NullString{String: issue.CreatedAt, Valid: issue.CreatedAt != ""},
		sql.NullString{String: issue.UpdatedAt, Valid: issue.UpdatedAt != ""},
		sql.NullString{String: issue.SyncedAt, Valid: issue.SyncedAt != ""},
	)
	if err != nil {
		return fmt.Errorf("failed to upsert issue: %w", err)
	}
	return nil
}

// insertCommentsTx replaces all comments for an issue inside an open transaction.
func insertCommentsTx(tx *sql.Tx, repo string, issueNumber int, comments []Comment) error {
	_, err := tx.Exec("DELETE FROM comments WHERE repo = ? AND issue_number = ?", repo, issueNumber)
	if err != nil {
		return fmt.Errorf("failed to delete existing comments: %w", err)
	}

	query := `
		INSERT INTO comments (id, issue_number, repo, author, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	for _, comment := range comments {
		_, err = tx.Exec(query,
			comment.ID,
			issueNumber,
			repo,
			comment.Author,
			sql.NullString{String: comment.Body, Valid: comment.Body != ""},
			sql.NullString{String: comment.CreatedAt, Valid: comment.CreatedAt != ""},
			sql.NullString{String: comment.UpdatedAt, Valid: comment.UpdatedAt != ""},
		)
		if err != nil {
			return fmt.Errorf("failed to insert comment %d: %w", comment.ID, err)
		}
	}
	return nil
}

// GetIssue retrieves an issue snapshot by repo and number.
// Returns nil when the issue is not cached.
func (s *Store) GetIssue(repo string, number int) (*Issue, error) {
	query := `
		SELECT number, repo, title, body, state, author, labels,
		       created_at, updated_at, synced_at
		FROM issues
		WHERE repo = ? AND number = ?
	`

	row := s.conn.QueryRow(query, repo, number)
	return scanIssueFrom(row)
}

// ListIssues retrieves all issue snapshots for a repository.
func (s *Store) ListIssues(repo string) ([]Issue, error) {
	query := `
		SELECT number, repo, title, body, state, author, labels,
		       created_at, updated_at, synced_at
		FROM issues
		WHERE repo = ?
		ORDER BY number ASC
	`

	rows, err := s.conn.Query(query, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	issues := []Issue{}
	for rows.Next() {
		issue, err := scanIssueFrom(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, *issue)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return issues, nil
}

// scanner is an interface that both *sql.Row and *sql.Rows implement.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanIssueFrom scans a row into an Issue struct using the scanner interface.
func scanIssueFrom(sc scanner) (*Issue, error) {
	var issue Issue
	var body, state, author, labels, createdAt, updatedAt, syncedAt sql.NullString

	err := sc.Scan(
		&issue.Number,
		&issue.Repo,
		&issue.Title,
		&body,
		&state,
		&author,
		&labels,
		&createdAt,
		&updatedAt,
		&syncedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan issue: %w", err)
	}

	issue.Body = body.String
	issue.State = state.String
	issue.Author = author.String
	issue.CreatedAt = createdAt.String
	issue.UpdatedAt = updatedAt.String
	issue.SyncedAt = syncedAt.String

	if labels.Valid && labels.String != "" {
		if err := json.Unmarshal([]byte(labels.String), &issue.Labels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal labels: %w", err)
		}
	}

	return &issue, nil
}

// GetComments retrieves all cached comments for an issue, ordered by creation time.
func (s *Store) GetComments(repo string, issueNumber int) ([]Comment, error) {
	query := `
		SELECT id, issue_number, repo, author, body, created_at, updated_at
		FROM comments
		WHERE repo = ? AND issue_number = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.conn.Query(query, repo, issueNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	comments := []Comment{}
	for rows.Next() {
		var comment Comment
		var body, createdAt, updatedAt sql.NullString

		err := rows.Scan(
			&comment.ID,
			&comment.IssueNumber,
			&comment.Repo,
			&comment.Author,
			&body,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}

		comment.Body = body.String
		comment.CreatedAt = createdAt.String
		comment.UpdatedAt = updatedAt.String

		comments = append(comments, comment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comment rows: %w", err)
	}
	return comments, nil
}

// enqueue inserts a mutation. For single-entry kinds (state changes and
// label updates) any prior entry for the same (repo, issue, kind) is removed
// in the same transaction, so the queue never holds two.
func (s *Store) enqueue(m Mutation) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if m.Kind == KindStateChange || m.Kind == KindLabelUpdate {
		_, err := tx.Exec(
			"DELETE FROM mutations WHERE repo = ? AND issue_number = ? AND kind = ?",
			m.Repo, m.IssueNumber, m.Kind,
		)
		if err != nil {
			return fmt.Errorf("failed to replace prior mutation: %w", err)
		}
	}

	_, err = tx.Exec(
		"INSERT INTO mutations (id, repo, issue_number, kind, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		m.ID, m.Repo, m.IssueNumber, m.Kind, string(m.Payload), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue mutation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// newMutation builds a mutation envelope with a fresh id and timestamp.
func newMutation(repo string, issueNumber int, kind string, payload interface{}) (Mutation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Mutation{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return Mutation{
		ID:          uuid.NewString(),
		Repo:        repo,
		IssueNumber: issueNumber,
		Kind:        kind,
		Payload:     raw,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// EnqueueStateChange queues a state toggle for an issue, replacing any
// previously queued state change for the same issue.
func (s *Store) EnqueueStateChange(repo string, issueNumber int, state string) error {
	if state != "open" && state != "closed" {
		return fmt.Errorf("invalid state %q: must be open or closed", state)
	}
	m, err := newMutation(repo, issueNumber, KindStateChange, StateChangePayload{State: state})
	if err != nil {
		return err
	}
	return s.enqueue(m)
}

// EnqueueLabelUpdate queues the full desired label set for an issue,
// replacing any previously queued label update for the same issue.
func (s *Store) EnqueueLabelUpdate(repo string, issueNumber int, labels []string) error {
	if labels == nil {
		labels = []string{}
	}
	m, err := newMutation(repo, issueNumber, KindLabelUpdate, LabelUpdatePayload{Labels: labels})
	if err != nil {
		return err
	}
	return s.enqueue(m)
}

// EnqueueReply queues a new comment on an issue.
func (s *Store) EnqueueReply(repo string, issueNumber int, body string) error {
	m, err := newMutation(repo, issueNumber, KindReply, ReplyPayload{Body: body})
	if err != nil {
		return err
	}
	return s.enqueue(m)
}

// EnqueueNewIssue queues a locally drafted issue with no remote identity yet.
func (s *Store) EnqueueNewIssue(repo, title, body string, labels []string) error {
	m, err := newMutation(repo, 0, KindNewIssue, NewIssuePayload{Title: title, Body: body, Labels: labels})
	if err != nil {
		return err
	}
	return s.enqueue(m)
}

// mutationKindRank orders kinds for publication.
const mutationKindRankSQL = `
	CASE kind
		WHEN 'state_change' THEN 0
		WHEN 'label_update' THEN 1
		WHEN 'new_issue' THEN 2
		WHEN 'reply' THEN 3
		ELSE 4
	END
`

// PendingMutations returns queued mutations for a repository in publication
// order: state changes, label updates, new issues, replies; oldest first
// within each kind.
func (s *Store) PendingMutations(repo string) ([]Mutation, error) {
	query := `
		SELECT id, repo, issue_number, kind, payload, created_at
		FROM mutations
		WHERE repo = ?
		ORDER BY ` + mutationKindRankSQL + `, created_at ASC, id ASC
	`

	rows, err := s.conn.Query(query, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to query mutations: %w", err)
	}
	defer rows.Close()

	var mutations []Mutation
	for rows.Next() {
		var m Mutation
		var payload string
		if err := rows.Scan(&m.ID, &m.Repo, &m.IssueNumber, &m.Kind, &payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		m.Payload = json.RawMessage(payload)
		mutations = append(mutations, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mutation rows: %w", err)
	}
	return mutations, nil
}

// DequeueMutation removes a single mutation after it was durably confirmed
// published remotely.
func (s *Store) DequeueMutation(id string) error {
	_, err := s.conn.Exec("DELETE FROM mutations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to dequeue mutation: %w", err)
	}
	return nil
}

// PendingStateChange returns the queued state for an issue, if any.
func (s *Store) PendingStateChange(repo string, issueNumber int) (string, bool, error) {
	var payload string
	err := s.conn.QueryRow(
		"SELECT payload FROM mutations WHERE repo = ? AND issue_number = ? AND kind = ?",
		repo, issueNumber, KindStateChange,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query state change: %w", err)
	}

	var p StateChangePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return "", false, fmt.Errorf("failed to unmarshal state change: %w", err)
	}
	return p.State, true, nil
}

// PendingLabelUpdate returns the queued label set for an issue, if any.
func (s *Store) PendingLabelUpdate(repo string, issueNumber int) ([]string, bool, error) {
	var payload string
	err := s.conn.QueryRow(
		"SELECT payload FROM mutations WHERE repo = ? AND issue_number = ? AND kind = ?",
		repo, issueNumber, KindLabelUpdate,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query label update: %w", err)
	}

	var p LabelUpdatePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal label update: %w", err)
	}
	return p.Labels, true, nil
}

// ReplaceLabelCatalog replaces the stored remote label catalog for a repository.
func (s *Store) ReplaceLabelCatalog(repo string, labels []Label) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM labels WHERE repo = ?", repo); err != nil {
		return fmt.Errorf("failed to clear label catalog: %w", err)
	}

	for _, label := range labels {
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO labels (repo, name, color) VALUES (?, ?, ?)",
			repo, label.Name, label.Color,
		)
		if err != nil {
			return fmt.Errorf("failed to insert label %q: %w", label.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LabelCatalog returns the stored remote label catalog for a repository.
func (s *Store) LabelCatalog(repo string) ([]Label, error) {
	rows, err := s.conn.Query("SELECT name, color FROM labels WHERE repo = ? ORDER BY name", repo)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	var labels []Label
	for rows.Next() {
		var l Label
		var color sql.NullString
		if err := rows.Scan(&l.Name, &color); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		l.Color = color.String
		labels = append(labels, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating label rows: %w", err)
	}
	return labels, nil
}

// AddAsset records a cached asset. The asset index is append-only; an
// existing entry for the URL is left untouched.
func (s *Store) AddAsset(asset Asset) error {
	cachedAt := asset.CachedAt
	if cachedAt == "" {
		cachedAt = time.Now().UTC().Format(time.RFC3339)
	}

	_, err := s.conn.Exec(
		"INSERT OR IGNORE INTO assets (url, local_path, repo, cached_at) VALUES (?, ?, ?, ?)",
		asset.URL, asset.LocalPath, asset.Repo, cachedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add asset: %w", err)
	}
	return nil
}

// GetAsset looks up a cached asset by URL. Returns nil on a miss.
func (s *Store) GetAsset(url string) (*Asset, error) {
	var a Asset
	var cachedAt sql.NullString
	err := s.conn.QueryRow(
		"SELECT url, local_path, repo, cached_at FROM assets WHERE url = ?", url,
	).Scan(&a.URL, &a.LocalPath, &a.Repo, &cachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query asset: %w", err)
	}
	a.CachedAt = cachedAt.String
	return &a, nil
}

// ListAssets returns all cached assets tagged with the given repository.
func (s *Store) ListAssets(repo string) ([]Asset, error) {
	rows, err := s.conn.Query(
		"SELECT url, local_path, repo, cached_at FROM assets WHERE repo = ? ORDER BY url", repo,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		var a Asset
		var cachedAt sql.NullString
		if err := rows.Scan(&a.URL, &a.LocalPath, &a.Repo, &cachedAt); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		a.CachedAt = cachedAt.String
		assets = append(assets, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating asset rows: %w", err)
	}
	return assets, nil
}

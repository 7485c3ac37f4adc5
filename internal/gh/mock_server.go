package gh

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockServer provides a fake GitHub API for testing.
// It records every call it serves so tests can assert on ordering, and it
// can be told to fail specific method+path combinations.
type MockServer struct {
	*httptest.Server
	mu           sync.RWMutex
	issues       map[int]*Issue
	comments     map[int][]Comment
	labels       []Label
	repositories []Repository
	images       map[string][]byte
	nextNumber   int
	nextComment  int64
	calls        []string
	failures     map[string]int
}

// NewMockServer creates a mock GitHub API server.
func NewMockServer() *MockServer {
	m := &MockServer{
		issues:      make(map[int]*Issue),
		comments:    make(map[int][]Comment),
		images:      make(map[string][]byte),
		nextNumber:  1,
		nextComment: 1,
		failures:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/user", m.withRecording(m.handleUser))
	mux.HandleFunc("/search/repositories", m.withRecording(m.handleSearch))
	mux.HandleFunc("/repos/", m.withRecording(m.handleRepos))
	mux.HandleFunc("/images/", m.withRecording(m.handleImage))

	m.Server = httptest.NewServer(mux)
	return m
}

// withRecording logs the call and applies any configured failure before
// dispatching to the real handler.
func (m *MockServer) withRecording(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		m.mu.Lock()
		m.calls = append(m.calls, key)
		code, failing := m.failures[key]
		m.mu.Unlock()

		if failing {
			http.Error(w, "injected failure", code)
			return
		}
		h(w, r)
	}
}

// AddIssue adds an issue to the mock server.
func (m *MockServer) AddIssue(issue *Issue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues[issue.Number] = issue
	if issue.Number >= m.nextNumber {
		m.nextNumber = issue.Number + 1
	}
}

// AddComment adds a comment to an issue and bumps its comment count.
func (m *MockServer) AddComment(number int, comment Comment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if comment.ID >= m.nextComment {
		m.nextComment = comment.ID + 1
	}
	m.comments[number] = append(m.comments[number], comment)
	if issue, ok := m.issues[number]; ok {
		issue.Comments = len(m.comments[number])
	}
}

// SetLabels sets the repository label catalog.
func (m *MockServer) SetLabels(labels []Label) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labels = labels
}

// SetRepositories sets the search result set.
func (m *MockServer) SetRepositories(repos []Repository) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repositories = repos
}

// AddImage serves the given bytes at /images/<name>.
func (m *MockServer) AddImage(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[name] = data
}

// ImageURL returns the full URL for an image added with AddImage.
func (m *MockServer) ImageURL(name string) string {
	return m.URL + "/images/" + name
}

// GetIssue retrieves an issue (for test assertions).
func (m *MockServer) GetIssue(number int) *Issue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.issues[number]
}

// Calls returns the calls served so far as "METHOD /path" strings.
func (m *MockServer) Calls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// ResetCalls clears the recorded call log.
func (m *MockServer) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// FailOn makes the server answer the given method and path with the status
// code until ClearFailures is called.
func (m *MockServer) FailOn(method, path string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method+" "+path] = code
}

// ClearFailures removes all injected failures.
func (m *MockServer) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]int)
}

// Reset clears all state.
func (m *MockServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues = make(map[int]*Issue)
	m.comments = make(map[int][]Comment)
	m.labels = nil
	m.repositories = nil
	m.images = make(map[string][]byte)
	m.calls = nil
	m.failures = make(map[string]int)
	m.nextNumber = 1
	m.nextComment = 1
}

func (m *MockServer) handleUser(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if auth == "" || auth == "Bearer bad-token" {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(User{Login: "mockuser"})
}

func (m *MockServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"total_count": len(m.repositories),
		"items":       m.repositories,
	})
}

func (m *MockServer) handleImage(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/images/")

	m.mu.RLock()
	data, ok := m.images[name]
	m.mu.RUnlock()

	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

func (m *MockServer) handleRepos(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/repos/"), "/")
	if len(parts) < 3 {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	switch {
	case parts[2] == "labels" && len(parts) == 3:
		m.handleListLabels(w, r)

	case parts[2] == "issues" && len(parts) == 3:
		switch r.Method {
		case http.MethodGet:
			m.handleListIssues(w, r)
		case http.MethodPost:
			m.handleCreateIssue(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}

	case parts[2] == "issues" && len(parts) == 4:
		number, err := strconv.Atoi(parts[3])
		if err != nil {
			http.Error(w, "invalid issue number", http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodGet:
			m.handleGetIssue(w, r, number)
		case http.MethodPatch:
			m.handlePatchIssue(w, r, number)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}

	case parts[2] == "issues" && len(parts) == 5 && parts[4] == "comments":
		number, err := strconv.Atoi(parts[3])
		if err != nil {
			http.Error(w, "invalid issue number", http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodGet:
			m.handleListComments(w, r, number)
		case http.MethodPost:
			m.handleCreateComment(w, r, number)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// pageParams extracts per_page and page query values with GitHub defaults.
func pageParams(r *http.Request) (perPage, page int) {
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage <= 0 {
		perPage = 30
	}
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	return perPage, page
}

// paginate slices out one page of n items.
func paginate(n, perPage, page int) (lo, hi int) {
	lo = (page - 1) * perPage
	if lo > n {
		lo = n
	}
	hi = lo + perPage
	if hi > n {
		hi = n
	}
	return lo, hi
}

func (m *MockServer) handleListIssues(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		since, _ = time.Parse(time.RFC3339, s)
	}

	issues := make([]*Issue, 0, len(m.issues))
	for _, issue := range m.issues {
		if !since.IsZero() && !issue.UpdatedAt.After(since) {
			continue
		}
		issues = append(issues, issue)
	}
	sort.Slice(issues, func(i, j int) bool { return issues[i].Number < issues[j].Number })

	perPage, page := pageParams(r)
	lo, hi := paginate(len(issues), perPage, page)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(issues[lo:hi])
}

func (m *MockServer) handleListLabels(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	perPage, page := pageParams(r)
	lo, hi := paginate(len(m.labels), perPage, page)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.labels[lo:hi])
}

func (m *MockServer) handleListComments(w http.ResponseWriter, r *http.Request, number int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	comments := m.comments[number]
	perPage, page := pageParams(r)
	lo, hi := paginate(len(comments), perPage, page)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(comments[lo:hi])
}

func (m *MockServer) handleGetIssue(w http.ResponseWriter, r *http.Request, number int) {
	m.mu.RLock()
	issue, ok := m.issues[number]
	m.mu.RUnlock()

	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(issue)
}

func (m *MockServer) handlePatchIssue(w http.ResponseWriter, r *http.Request, number int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	issue, ok := m.issues[number]
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var update struct {
		State  *string   `json:"state"`
		Labels *[]string `json:"labels"`
	}
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if update.State != nil {
		issue.State = *update.State
	}
	if update.Labels != nil {
		labels := make([]Label, len(*update.Labels))
		for i, name := range *update.Labels {
			labels[i] = Label{Name: name}
		}
		issue.Labels = labels
	}
	issue.UpdatedAt = time.Now().UTC()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(issue)
}

func (m *MockServer) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var create struct {
		Title  string   `json:"title"`
		Body   string   `json:"body"`
		Labels []string `json:"labels"`
	}
	if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	labels := make([]Label, len(create.Labels))
	for i, name := range create.Labels {
		labels[i] = Label{Name: name}
	}

	now := time.Now().UTC()
	issue := &Issue{
		Number:    m.nextNumber,
		Title:     create.Title,
		Body:      create.Body,
		State:     "open",
		Labels:    labels,
		User:      User{Login: "mockuser"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.nextNumber++
	m.issues[issue.Number] = issue

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(issue)
}

func (m *MockServer) handleCreateComment(w http.ResponseWriter, r *http.Request, number int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	issue, ok := m.issues[number]
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var create struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	comment := Comment{
		ID:        m.nextComment,
		User:      User{Login: "mockuser"},
		Body:      create.Body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.nextComment++
	m.comments[number] = append(m.comments[number], comment)
	issue.Comments = len(m.comments[number])

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(comment)
}

// Package gh provides a GitHub API client for the offline issue cache.
package gh

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jverre/ghoffline/internal/logger"
	"gopkg.in/yaml.v3"
)

const (
	apiBaseURL = "https://api.github.com"

	// pageSize is the page size for all list endpoints. Paged fetches loop
	// until a page comes back with fewer than pageSize entries.
	pageSize = 100
)

// ErrBadToken indicates the configured token was rejected by the API.
var ErrBadToken = errors.New("github token is invalid or expired")

// APIError represents a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("GitHub API error: %s - %s", e.Status, e.Body)
}

// Label represents a GitHub issue label.
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// User represents a GitHub user.
type User struct {
	Login string `json:"login"`
}

// PullRequestRef marks an issues-endpoint entry as a pull request.
type PullRequestRef struct {
	URL string `json:"url"`
}

// Issue represents a GitHub issue.
// The issues endpoint also returns pull requests; those carry a non-nil
// pull_request field and must be filtered out by callers.
type Issue struct {
	Number      int             `json:"number"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	State       string          `json:"state"`
	Labels      []Label         `json:"labels"`
	User        User            `json:"user"`
	Comments    int             `json:"comments"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	PullRequest *PullRequestRef `json:"pull_request,omitempty"`
}

// IsPullRequest reports whether this entry is a pull request in disguise.
func (i *Issue) IsPullRequest() bool {
	return i.PullRequest != nil
}

// Comment represents a GitHub issue comment.
type Comment struct {
	ID        int64     `json:"id"`
	User      User      `json:"user"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository represents a repository returned by the search endpoint.
type Repository struct {
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	Stars       int    `json:"stargazers_count"`
}

// Client is a GitHub API client.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// ghHostsConfig represents the structure of ~/.config/gh/hosts.yml
type ghHostsConfig map[string]ghHost

type ghHost struct {
	OAuthToken string `yaml:"oauth_token"`
	User       string `yaml:"user"`
}

// New creates a new GitHub API client with the given token.
func New(token string) *Client {
	return &Client{
		token:      token,
		baseURL:    apiBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewWithBaseURL creates a GitHub API client with a custom base URL (for testing).
func NewWithBaseURL(token, baseURL string) *Client {
	return &Client{
		token:      token,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// GetToken attempts to get a GitHub token from various sources:
// 1. Run `gh auth token` command (gh CLI with keyring storage)
// 2. Read from ~/.config/gh/hosts.yml (older gh CLI format)
// 3. GITHUB_TOKEN environment variable
func GetToken() (string, error) {
	// Try gh auth token command first (handles keyring storage)
	if token, err := getTokenFromGhCLI(); err == nil && token != "" {
		return token, nil
	}

	// Try reading from gh hosts.yml config (older format)
	if token, err := getTokenFromGhConfig(); err == nil && token != "" {
		return token, nil
	}

	// Fall back to GITHUB_TOKEN env var
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return token, nil
	}

	return "", fmt.Errorf("no GitHub token found: install gh CLI and run 'gh auth login', or set GITHUB_TOKEN env var")
}

// getTokenFromGhCLI runs `gh auth token` to get the token from the gh CLI.
func getTokenFromGhCLI() (string, error) {
	cmd := exec.Command("gh", "auth", "token")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("gh auth token failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// getTokenFromGhConfig reads the token from ~/.config/gh/hosts.yml.
func getTokenFromGhConfig() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".config", "gh", "hosts.yml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to read gh config: %w", err)
	}

	var config ghHostsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return "", fmt.Errorf("failed to parse gh config: %w", err)
	}

	// Look for github.com host
	if host, ok := config["github.com"]; ok {
		if host.OAuthToken != "" {
			return host.OAuthToken, nil
		}
	}

	return "", fmt.Errorf("no oauth_token found in gh config")
}

// doRequest performs an HTTP request with authentication and returns the response.
func (c *Client) doRequest(method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return resp, nil
}

// apiError drains the response body into an *APIError.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}

// checkRateLimit logs rate limit information from response headers.
func checkRateLimit(resp *http.Response) {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	reset := resp.Header.Get("X-RateLimit-Reset")

	if remaining == "0" && reset != "" {
		resetTime, err := strconv.ParseInt(reset, 10, 64)
		if err == nil {
			resetAt := time.Unix(resetTime, 0)
			logger.Warn("gh: API rate limit exceeded, resets at %s", resetAt.Format(time.RFC3339))
		}
	}
}

// ValidateToken checks the token against GET /user and returns the login.
// A 401 response is reported as ErrBadToken.
func (c *Client) ValidateToken() (string, error) {
	resp, err := c.doRequest("GET", c.baseURL+"/user", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	checkRateLimit(resp)

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return "", ErrBadToken
	}
	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return user.Login, nil
}

// ListIssues fetches issues from the repository, all states, including the
// pull requests the endpoint conflates with issues. When since is non-zero
// only issues updated after it are returned (server-side filter).
// Pages of pageSize are fetched until a short page terminates the loop.
func (c *Client) ListIssues(owner, repo string, since time.Time) ([]Issue, error) {
	var allIssues []Issue

	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/repos/%s/%s/issues?state=all&per_page=%d&page=%d",
			c.baseURL, owner, repo, pageSize, page)
		if !since.IsZero() {
			url += "&since=" + since.UTC().Format(time.RFC3339)
		}

		resp, err := c.doRequest("GET", url, nil)
		if err != nil {
			return nil, err
		}

		checkRateLimit(resp)

		if resp.StatusCode != http.StatusOK {
			err := apiError(resp)
			resp.Body.Close()
			return nil, err
		}

		var issues []Issue
		if err := json.NewDecoder(resp.Body).Decode(&issues); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		resp.Body.Close()

		allIssues = append(allIssues, issues...)

		if len(issues) < pageSize {
			break
		}
	}

	return allIssues, nil
}

// ListComments fetches all comments for an issue, paged until a short page.
func (c *Client) ListComments(owner, repo string, number int) ([]Comment, error) {
	var allComments []Comment

	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments?per_page=%d&page=%d",
			c.baseURL, owner, repo, number, pageSize, page)

		resp, err := c.doRequest("GET", url, nil)
		if err != nil {
			return nil, err
		}

		checkRateLimit(resp)

		if resp.StatusCode != http.StatusOK {
			err := apiError(resp)
			resp.Body.Close()
			return nil, err
		}

		var comments []Comment
		if err := json.NewDecoder(resp.Body).Decode(&comments); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		resp.Body.Close()

		allComments = append(allComments, comments...)

		if len(comments) < pageSize {
			break
		}
	}

	return allComments, nil
}

// ListLabels fetches the repository's label catalog, paged until a short page.
func (c *Client) ListLabels(owner, repo string) ([]Label, error) {
	var allLabels []Label

	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/repos/%s/%s/labels?per_page=%d&page=%d",
			c.baseURL, owner, repo, pageSize, page)

		resp, err := c.doRequest("GET", url, nil)
		if err != nil {
			return nil, err
		}

		checkRateLimit(resp)

		if resp.StatusCode != http.StatusOK {
			err := apiError(resp)
			resp.Body.Close()
			return nil, err
		}

		var labels []Label
		if err := json.NewDecoder(resp.Body).Decode(&labels); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		resp.Body.Close()

		allLabels = append(allLabels, labels...)

		if len(labels) < pageSize {
			break
		}
	}

	return allLabels, nil
}

// SearchRepositories searches repositories matching the query.
func (c *Client) SearchRepositories(query string) ([]Repository, error) {
	reqURL := fmt.Sprintf("%s/search/repositories?q=%s&per_page=%d",
		c.baseURL, url.QueryEscape(query), pageSize)

	resp, err := c.doRequest("GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	checkRateLimit(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var result struct {
		TotalCount int          `json:"total_count"`
		Items      []Repository `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return result.Items, nil
}

// CreateIssue creates a new issue and returns the remote record.
func (c *Client) CreateIssue(owner, repo, title, body string, labels []string) (*Issue, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/issues", c.baseURL, owner, repo)

	payload := map[string]interface{}{
		"title": title,
		"body":  body,
	}
	if len(labels) > 0 {
		payload["labels"] = labels
	}
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := c.doRequest("POST", url, bytes.NewReader(jsonPayload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	checkRateLimit(resp)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var issue Issue
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &issue, nil
}

// CreateComment posts a new comment on an issue.
func (c *Client) CreateComment(owner, repo string, number int, body string) (*Comment, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", c.baseURL, owner, repo, number)

	payload := map[string]string{"body": body}
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := c.doRequest("POST", url, bytes.NewReader(jsonPayload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	checkRateLimit(resp)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var comment Comment
	if err := json.NewDecoder(resp.Body).Decode(&comment); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &comment, nil
}

// SetIssueState sets an issue's state to "open" or "closed".
func (c *Client) SetIssueState(owner, repo string, number int, state string) error {
	return c.patchIssue(owner, repo, number, map[string]interface{}{"state": state})
}

// ReplaceLabels replaces an issue's label set with the given names.
func (c *Client) ReplaceLabels(owner, repo string, number int, labels []string) error {
	if labels == nil {
		labels = []string{}
	}
	return c.patchIssue(owner, repo, number, map[string]interface{}{"labels": labels})
}

// patchIssue sends a PATCH to the issue endpoint with the given fields.
func (c *Client) patchIssue(owner, repo string, number int, fields map[string]interface{}) error {
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d", c.baseURL, owner, repo, number)

	jsonPayload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := c.doRequest("PATCH", url, bytes.NewReader(jsonPayload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	checkRateLimit(resp)

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	return nil
}

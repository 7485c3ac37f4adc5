// Package assets discovers image URLs in issue and comment text and caches
// the image bytes locally so rendering works fully offline.
package assets

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jverre/ghoffline/internal/logger"
	"github.com/jverre/ghoffline/internal/store"
)

// Image references appear in two textual forms: markdown image syntax and
// raw img tags.
var (
	markdownImageRe = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^)\s]+)\)`)
	imgTagRe        = regexp.MustCompile(`<img[^>]*\ssrc=["'](https?://[^"']+)["']`)
)

// extensions we trust from a URL path; anything else falls back to the
// response content type.
var knownExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".svg":  true,
	".webp": true,
}

var contentTypeExtensions = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/svg+xml": ".svg",
	"image/webp":    ".webp",
}

var extensionContentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
}

// Cache downloads and indexes image assets keyed by URL.
type Cache struct {
	store      *store.Store
	dir        string
	httpClient *http.Client
}

// New creates an asset cache writing files under dir.
// The directory is created on first use.
func New(st *store.Store, dir string) *Cache {
	return &Cache{
		store:      st,
		dir:        dir,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ExtractAssetURLs returns the de-duplicated union of http/https image URLs
// found in the text, in order of first appearance.
func ExtractAssetURLs(text string) []string {
	var urls []string
	seen := make(map[string]bool)

	for _, re := range []*regexp.Regexp{markdownImageRe, imgTagRe} {
		for _, match := range re.FindAllStringSubmatch(text, -1) {
			u := match[1]
			if !seen[u] {
				seen[u] = true
				urls = append(urls, u)
			}
		}
	}
	return urls
}

// CollectAssetURLs unions asset URLs across every issue body and comment
// body in the given collection, de-duplicated.
func CollectAssetURLs(issues []store.Issue, comments map[int][]store.Comment) []string {
	var urls []string
	seen := make(map[string]bool)

	add := func(text string) {
		for _, u := range ExtractAssetURLs(text) {
			if !seen[u] {
				seen[u] = true
				urls = append(urls, u)
			}
		}
	}

	for _, issue := range issues {
		add(issue.Body)
		for _, comment := range comments[issue.Number] {
			add(comment.Body)
		}
	}
	return urls
}

// CacheAsset fetches and persists the asset at the given URL unless it is
// already cached. The file name is derived from a hash of the URL plus the
// detected file extension, so repeated caching is a no-op.
func (c *Cache) CacheAsset(assetURL, repo string) error {
	existing, err := c.store.GetAsset(assetURL)
	if err != nil {
		return fmt.Errorf("failed to look up asset: %w", err)
	}
	if existing != nil {
		return nil
	}

	resp, err := c.httpClient.Get(assetURL)
	if err != nil {
		return fmt.Errorf("failed to fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch asset: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read asset body: %w", err)
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("failed to create asset directory: %w", err)
	}

	filename := assetFilename(assetURL, resp.Header.Get("Content-Type"))
	localPath := filepath.Join(c.dir, filename)
	if err := os.WriteFile(localPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write asset file: %w", err)
	}

	asset := store.Asset{
		URL:       assetURL,
		LocalPath: localPath,
		Repo:      repo,
	}
	if err := c.store.AddAsset(asset); err != nil {
		return fmt.Errorf("failed to record asset: %w", err)
	}

	logger.Debug("assets: cached %s (%s)", assetURL, humanize.Bytes(uint64(len(data))))
	return nil
}

// CacheAllAssetsIn caches every asset referenced by the given issues and
// comments, sequentially. Individual fetch errors are logged and skipped so
// one broken image never fails a sync. The optional progress callback is
// invoked after each URL with (done, total).
func (c *Cache) CacheAllAssetsIn(issues []store.Issue, comments map[int][]store.Comment, repo string, progress func(done, total int)) {
	urls := CollectAssetURLs(issues, comments)
	for i, u := range urls {
		if err := c.CacheAsset(u, repo); err != nil {
			logger.Warn("assets: failed to cache %s: %v", u, err)
		}
		if progress != nil {
			progress(i+1, len(urls))
		}
	}
}

// ResolveAsset returns the cached asset as a base64 data URI for rendering
// collaborators. Returns "" when the URL has no cached entry.
func (c *Cache) ResolveAsset(assetURL string) (string, error) {
	asset, err := c.store.GetAsset(assetURL)
	if err != nil {
		return "", fmt.Errorf("failed to look up asset: %w", err)
	}
	if asset == nil {
		return "", nil
	}

	data, err := os.ReadFile(asset.LocalPath)
	if err != nil {
		return "", fmt.Errorf("failed to read asset file: %w", err)
	}

	mime := extensionContentTypes[strings.ToLower(filepath.Ext(asset.LocalPath))]
	if mime == "" {
		mime = "application/octet-stream"
	}

	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// assetFilename derives a deterministic file name from the URL hash plus a
// detected or assumed extension.
func assetFilename(assetURL, contentType string) string {
	sum := sha256.Sum256([]byte(assetURL))
	name := hex.EncodeToString(sum[:])[:16]
	return name + assetExtension(assetURL, contentType)
}

// assetExtension picks a file extension from the URL path, falling back to
// the response content type, and assuming PNG when neither helps.
func assetExtension(assetURL, contentType string) string {
	if u, err := url.Parse(assetURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if knownExtensions[ext] {
			return ext
		}
	}

	// Strip any ;charset= suffix before the lookup
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	if ext, ok := contentTypeExtensions[strings.TrimSpace(contentType)]; ok {
		return ext
	}

	return ".png"
}

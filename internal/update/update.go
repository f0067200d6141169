// Package update checks GitHub releases for a newer build. It only
// reports; installing the update is left to the user's package
// manager or a manual download.
package update

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
)

const (
	githubRepo    = "gpulend/gpulend-cli"
	githubAPIBase = "https://api.github.com"
)

// Release is the subset of a GitHub release the checker cares about.
type Release struct {
	TagName    string `json:"tag_name"`
	Name       string `json:"name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
	HTMLURL    string `json:"html_url"`
}

// Client checks for updates against the project's releases.
type Client struct {
	currentVersion string
	apiBase        string
	httpClient     *http.Client
}

// NewClient creates a checker for the given running version.
func NewClient(currentVersion string) *Client {
	return &Client{
		currentVersion: currentVersion,
		apiBase:        githubAPIBase,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
	}
}

// CheckForUpdate returns the latest release if it is newer than the
// running version, nil when already up to date.
func (c *Client) CheckForUpdate() (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", c.apiBase, githubRepo)
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetching latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release check failed: %s", resp.Status)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("parsing release: %w", err)
	}
	if release.Draft || release.Prerelease {
		return nil, nil
	}

	newer, err := c.isNewer(release.TagName)
	if err != nil {
		return nil, err
	}
	if !newer {
		return nil, nil
	}
	return &release, nil
}

// isNewer compares a release tag against the running version. A "dev"
// build never updates.
func (c *Client) isNewer(tag string) (bool, error) {
	if c.currentVersion == "" || c.currentVersion == "dev" {
		return false, nil
	}
	current, err := version.NewVersion(strings.TrimPrefix(c.currentVersion, "v"))
	if err != nil {
		return false, fmt.Errorf("parsing current version %q: %w", c.currentVersion, err)
	}
	latest, err := version.NewVersion(strings.TrimPrefix(tag, "v"))
	if err != nil {
		return false, fmt.Errorf("parsing release tag %q: %w", tag, err)
	}
	return latest.GreaterThan(current), nil
}

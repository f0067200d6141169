package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// transferTimeout bounds artifact uploads and downloads; archives can
// be large, so the normal request timeout does not apply.
const transferTimeout = 2 * time.Minute

// ArtifactRef locates a stored artifact: either by opaque ID, or by
// (token, filename) for relays predating artifact IDs.
type ArtifactRef struct {
	ArtifactID string
	Token      string
	Filename   string
}

// UploadArtifact streams a file to the relay under the given session
// and role. Returns the artifact_id the relay assigned (may be empty
// on legacy relays).
func (c *Client) UploadArtifact(ctx context.Context, token, role, path string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		if err := mw.WriteField("token", token); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := mw.WriteField("role", role); err != nil {
			pw.CloseWithError(err)
			return
		}
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", pr)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := transferClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("upload: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload: HTTP %d: %s", resp.StatusCode, truncateBody(data))
	}

	var out struct {
		OK         *bool  `json:"ok"`
		Error      string `json:"error"`
		ArtifactID string `json:"artifact_id"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		// Non-JSON 200 from a legacy relay: treat as success without an ID.
		return "", nil
	}
	if out.OK != nil && !*out.OK {
		return "", &APIError{Endpoint: "/upload", Message: out.Error}
	}
	return out.ArtifactID, nil
}

// DownloadArtifact fetches a stored artifact to destPath.
func (c *Client) DownloadArtifact(ctx context.Context, ref ArtifactRef, destPath string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	q := url.Values{}
	if ref.ArtifactID != "" {
		q.Set("artifact_id", ref.ArtifactID)
	} else {
		q.Set("token", ref.Token)
		q.Set("filename", ref.Filename)
	}

	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/artifact/download?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create download request: %w", err)
	}

	resp, err := transferClient().Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("download: HTTP %d: %s", resp.StatusCode, string(body))
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write download: %w", err)
	}
	return out.Close()
}

// transferClient is the HTTP client for artifact transfers. Timeouts
// come from the request context, not the client, so a slow but live
// transfer is not cut off mid-stream.
func transferClient() *http.Client {
	return &http.Client{}
}

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gpulend/gpulend-cli/internal/archive"
	"github.com/gpulend/gpulend-cli/internal/signal"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{BaseURL: srv.URL, RequestsPerSecond: 1000})
}

func TestTolerantParseMissingOKIsSuccess(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No "ok" flag at all, just the expected fields.
		fmt.Fprint(w, `{"credits": 42.5}`)
	}))

	credits, err := c.Credits(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatalf("Credits: %v", err)
	}
	if credits != 42.5 {
		t.Errorf("credits = %v, want 42.5", credits)
	}
}

func TestExplicitOKFalseIsError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": false, "error": "wrong password"}`)
	}))

	_, err := c.Login(context.Background(), "alice", "bad")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want APIError, got %v", err)
	}
	if apiErr.Message != "wrong password" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestRequestGPUNoMatch(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true, "sharer": null}`)
	}))

	_, err := c.RequestGPU(context.Background(), "alice", ResourceRequest{VRAM: 8})
	if !errors.Is(err, ErrNoMatch) {
		t.Errorf("want ErrNoMatch, got %v", err)
	}
}

func TestRequestGPUMatched(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/request_gpu" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"ok": true, "sharer": {"username": "bob", "gpu": "RTX 3080", "vram": 10}}`)
	}))

	sharer, err := c.RequestGPU(context.Background(), "alice", ResourceRequest{VRAM: 8, MaxTime: 10})
	if err != nil {
		t.Fatalf("RequestGPU: %v", err)
	}
	if sharer.Username != "bob" || sharer.VRAM != 10 {
		t.Errorf("sharer = %+v", sharer)
	}
}

func TestPendingForAbsentRecord(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true, "pending": null}`)
	}))

	pending, err := c.PendingFor(context.Background(), "alice")
	if err != nil {
		t.Fatalf("PendingFor: %v", err)
	}
	if pending != nil {
		t.Errorf("pending = %+v, want nil for absent record", pending)
	}
}

func TestPendingForAcceptedCarriesToken(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Token at the top level, as some relays return it.
		fmt.Fprint(w, `{"ok": true, "token": "tok-1", "pending": {"state": "accepted", "sharer": "bob", "gpu": "RTX 3080"}}`)
	}))

	pending, err := c.PendingFor(context.Background(), "alice")
	if err != nil {
		t.Fatalf("PendingFor: %v", err)
	}
	if pending.State != "accepted" || pending.Token != "tok-1" {
		t.Errorf("pending = %+v", pending)
	}
}

func TestPollSignalsDecodesMessages(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("since"); got != "3" {
			t.Errorf("since = %s, want 3", got)
		}
		fmt.Fprint(w, `{"ok": true, "next_msg_index": 5, "session_ended": false, "messages": [
			{"index": 3, "from": "renter", "payload": {"flag": "begin", "filename": "job.zip", "cmd": "echo hi", "artifact_id": "a-1", "max_time": 60}},
			{"index": 4, "from": "sharer", "payload": {"flag": "output", "status": "running", "message": "started"}}
		]}`)
	}))

	res, err := c.PollSignals(context.Background(), "tok", signal.RoleSharer, 3)
	if err != nil {
		t.Fatalf("PollSignals: %v", err)
	}
	if len(res.Messages) != 2 || res.NextIndex != 5 {
		t.Fatalf("res = %+v", res)
	}
	begin, ok := res.Messages[0].Payload.(signal.Begin)
	if !ok || begin.ArtifactID != "a-1" || begin.MaxTime != 60 {
		t.Errorf("begin payload = %+v", res.Messages[0].Payload)
	}
}

func TestSendSignalEncodesFlag(t *testing.T) {
	var gotBody string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		fmt.Fprint(w, `{"ok": true}`)
	}))

	err := c.SendSignal(context.Background(), "tok", signal.RoleRenter, signal.Begin{Filename: "j.zip", Cmd: "ls"})
	if err != nil {
		t.Fatalf("SendSignal: %v", err)
	}
	for _, want := range []string{`"flag":"begin"`, `"token":"tok"`, `"role":"renter"`} {
		if !strings.Contains(gotBody, want) {
			t.Errorf("body %s missing %s", gotBody, want)
		}
	}
}

// TestArtifactRoundTrip covers the full transfer path: zip a folder,
// upload it, download by the returned artifact id, unpack, and compare
// the file set.
func TestArtifactRoundTrip(t *testing.T) {
	store := map[string][]byte{}
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("token") != "tok" || r.FormValue("role") != "renter" {
			http.Error(w, "bad form fields", http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		store["a-99"] = data
		fmt.Fprint(w, `{"ok": true, "artifact_id": "a-99"}`)
	})
	mux.HandleFunc("/artifact/download", func(w http.ResponseWriter, r *http.Request) {
		data, ok := store[r.URL.Query().Get("artifact_id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	})
	c := testClient(t, mux)

	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "data"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "main.py"), []byte("print(1)\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "data", "in.txt"), []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}

	zipPath := filepath.Join(t.TempDir(), "job.zip")
	if err := archive.ZipDir(src, zipPath); err != nil {
		t.Fatal(err)
	}

	id, err := c.UploadArtifact(context.Background(), "tok", "renter", zipPath)
	if err != nil {
		t.Fatalf("UploadArtifact: %v", err)
	}
	if id != "a-99" {
		t.Fatalf("artifact id = %q", id)
	}

	downloaded := filepath.Join(t.TempDir(), "got.zip")
	if err := c.DownloadArtifact(context.Background(), ArtifactRef{ArtifactID: id}, downloaded); err != nil {
		t.Fatalf("DownloadArtifact: %v", err)
	}

	dest := t.TempDir()
	if err := archive.Unpack(downloaded, dest); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	for rel, want := range map[string]string{"main.py": "print(1)\n", "data/in.txt": "abc"} {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(rel)))
		if err != nil || string(got) != want {
			t.Errorf("%s after round trip: %q, %v", rel, got, err)
		}
	}
}

package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tanq16/pixreaper/internal/resolver"
	"github.com/tanq16/pixreaper/internal/utils"
)

func testDownloadEngine(mode DuplicateMode) *Engine {
	client := utils.NewPixHTTPClient(utils.HTTPClientConfig{
		Timeout:     5 * time.Second,
		UserAgent:   "pixreaper-test",
		NoRedirects: true,
	})
	return NewEngine(client, resolver.NewExtensionPolicy([]string{"jpg", "jpeg", "png"}), mode)
}

func imageHandler(body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(body)
	}
}

func TestFetchToFileSuccess(t *testing.T) {
	body := bytes.Repeat([]byte("pix"), 1000)
	server := httptest.NewServer(imageHandler(body))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	target := filepath.Join(dir, "001.jpg")
	engine := testDownloadEngine(ModeSkip)

	result, err := engine.FetchToFile(context.Background(), server.URL+"/img/001.jpg", target)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	got, err := os.ReadFile(result.Path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Error("downloaded content mismatch")
	}
	if result.Size != int64(len(body)) {
		t.Errorf("reported size = %d, want %d", result.Size, len(body))
	}
	if _, err := os.Stat(target + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after success")
	}
}

func TestFetchToFileRejectsExtensionBeforeNetwork(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	t.Cleanup(server.Close)

	engine := testDownloadEngine(ModeSkip)
	_, err := engine.FetchToFile(context.Background(), server.URL+"/file.txt", filepath.Join(t.TempDir(), "file.txt"))

	if !errors.Is(err, ErrDisallowedExtension) {
		t.Fatalf("expected ErrDisallowedExtension, got %v", err)
	}
	if requests.Load() != 0 {
		t.Error("disallowed extension must be rejected before any network call")
	}
}

func TestFetchToFileRedirectLoop(t *testing.T) {
	var requests atomic.Int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Redirect(w, r, server.URL+r.URL.Path, http.StatusFound)
	}))
	t.Cleanup(server.Close)

	engine := testDownloadEngine(ModeSkip)
	_, err := engine.FetchToFile(context.Background(), server.URL+"/loop.jpg", filepath.Join(t.TempDir(), "loop.jpg"))

	if !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("expected ErrTooManyRedirects, got %v", err)
	}
	if got := requests.Load(); got != maxRedirectHops+1 {
		t.Errorf("expected %d requests before giving up, got %d", maxRedirectHops+1, got)
	}
}

func TestFetchToFileRedirectFollowed(t *testing.T) {
	body := []byte("redirected image bytes")
	final := httptest.NewServer(imageHandler(body))
	t.Cleanup(final.Close)
	hopper := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL+"/real.jpg", http.StatusMovedPermanently)
	}))
	t.Cleanup(hopper.Close)

	engine := testDownloadEngine(ModeSkip)
	target := filepath.Join(t.TempDir(), "img.jpg")
	result, err := engine.FetchToFile(context.Background(), hopper.URL+"/img.jpg", target)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	got, _ := os.ReadFile(result.Path)
	if !bytes.Equal(got, body) {
		t.Error("content after redirect mismatch")
	}
}

func TestFetchToFileMissingRedirectLocation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
	t.Cleanup(server.Close)

	engine := testDownloadEngine(ModeSkip)
	_, err := engine.FetchToFile(context.Background(), server.URL+"/img.jpg", filepath.Join(t.TempDir(), "img.jpg"))
	if !errors.Is(err, ErrMissingLocation) {
		t.Fatalf("expected ErrMissingLocation, got %v", err)
	}
}

func TestFetchToFileContentTypeGuard(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>error page</html>"))
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	target := filepath.Join(dir, "img.jpg")
	engine := testDownloadEngine(ModeSkip)
	_, err := engine.FetchToFile(context.Background(), server.URL+"/img.jpg", target)

	if !errors.Is(err, ErrNotAnImage) {
		t.Fatalf("expected ErrNotAnImage, got %v", err)
	}
	if _, statErr := os.Stat(target); !os.IsNotExist(statErr) {
		t.Error("no file may be written for a non-image response")
	}
}

func TestFetchToFileDuplicateByContentLength(t *testing.T) {
	existing := bytes.Repeat([]byte("a"), 50000)
	served := bytes.Repeat([]byte("b"), 50000)
	server := httptest.NewServer(imageHandler(served))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	target := filepath.Join(dir, "img.jpg")
	if err := os.WriteFile(target, existing, 0644); err != nil {
		t.Fatal(err)
	}

	engine := testDownloadEngine(ModeSkip)
	result, err := engine.FetchToFile(context.Background(), server.URL+"/img.jpg", target)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if result.Status != StatusSkipped {
		t.Fatalf("expected skipped, got %s", result.Status)
	}
	got, _ := os.ReadFile(target)
	if !bytes.Equal(got, existing) {
		t.Error("existing file must not be altered by a skipped download")
	}
	if _, statErr := os.Stat(target + ".tmp"); !os.IsNotExist(statErr) {
		t.Error("fast-path skip must not leave a temp file")
	}
}

func TestFetchToFileDuplicateBySizeAfterStream(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flushing first forces chunked encoding, so no Content-Length is
		// advertised and the fast path cannot trigger.
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		w.Write(body)
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	target := filepath.Join(dir, "img.jpg")
	if err := os.WriteFile(target, bytes.Repeat([]byte("y"), 4096), 0644); err != nil {
		t.Fatal(err)
	}

	engine := testDownloadEngine(ModeSkip)
	result, err := engine.FetchToFile(context.Background(), server.URL+"/img.jpg", target)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if result.Status != StatusSkipped {
		t.Fatalf("expected skipped via post-stream size compare, got %s", result.Status)
	}
	if _, statErr := os.Stat(target + ".tmp"); !os.IsNotExist(statErr) {
		t.Error("temp file must be removed after duplicate detection")
	}
}

func TestFetchToFileFolderDuplicateByHash(t *testing.T) {
	body := bytes.Repeat([]byte("same-bytes"), 512)
	server := httptest.NewServer(imageHandler(body))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	sibling := filepath.Join(dir, "001.jpg")
	if err := os.WriteFile(sibling, body, 0644); err != nil {
		t.Fatal(err)
	}

	engine := testDownloadEngine(ModeSkip)
	target := filepath.Join(dir, "002.jpg")
	result, err := engine.FetchToFile(context.Background(), server.URL+"/img.jpg", target)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if result.Status != StatusSkipped {
		t.Fatalf("expected skipped via folder hash scan, got %s", result.Status)
	}
	if result.Path != sibling {
		t.Errorf("expected duplicate path %s, got %s", sibling, result.Path)
	}
	if _, statErr := os.Stat(target); !os.IsNotExist(statErr) {
		t.Error("no second copy may be written for a folder duplicate")
	}
}

func TestFetchToFileOverwriteMode(t *testing.T) {
	body := bytes.Repeat([]byte("n"), 2048)
	server := httptest.NewServer(imageHandler(body))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	target := filepath.Join(dir, "img.jpg")
	if err := os.WriteFile(target, bytes.Repeat([]byte("o"), 2048), 0644); err != nil {
		t.Fatal(err)
	}

	engine := testDownloadEngine(ModeOverwrite)
	result, err := engine.FetchToFile(context.Background(), server.URL+"/img.jpg", target)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("overwrite mode must replace, got %s", result.Status)
	}
	got, _ := os.ReadFile(target)
	if !bytes.Equal(got, body) {
		t.Error("target was not overwritten")
	}
}

func TestFetchToFileRenameMode(t *testing.T) {
	original := []byte("original")
	body := []byte("fresh image")
	server := httptest.NewServer(imageHandler(body))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	target := filepath.Join(dir, "img.jpg")
	if err := os.WriteFile(target, original, 0644); err != nil {
		t.Fatal(err)
	}

	engine := testDownloadEngine(ModeRename)
	result, err := engine.FetchToFile(context.Background(), server.URL+"/img.jpg", target)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if result.Path == target {
		t.Fatal("rename mode must divert to a new path")
	}
	if filepath.Base(result.Path) != "img-(1).jpg" {
		t.Errorf("unexpected diverted name: %s", filepath.Base(result.Path))
	}
	got, _ := os.ReadFile(target)
	if !bytes.Equal(got, original) {
		t.Error("rename mode must not touch the existing file")
	}
	diverted, _ := os.ReadFile(result.Path)
	if !bytes.Equal(diverted, body) {
		t.Error("diverted file content mismatch")
	}
}

func TestFetchToFileNoPartialOnTruncatedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", "100000")
		w.Write(bytes.Repeat([]byte("z"), 100)) // then close early
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	target := filepath.Join(dir, "img.jpg")
	engine := testDownloadEngine(ModeSkip)
	_, err := engine.FetchToFile(context.Background(), server.URL+"/img.jpg", target)

	if err == nil {
		t.Fatal("expected error for truncated body")
	}
	if _, statErr := os.Stat(target); !os.IsNotExist(statErr) {
		t.Error("no file may appear at the final path after a failed stream")
	}
	if _, statErr := os.Stat(target + ".tmp"); !os.IsNotExist(statErr) {
		t.Error("temp file must be deleted after a failed stream")
	}
}

func TestFetchToFileCancelledMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", "1000000")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		cancel()
		time.Sleep(100 * time.Millisecond)
		fmt.Fprint(w, "late bytes")
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	target := filepath.Join(dir, "img.jpg")
	engine := testDownloadEngine(ModeSkip)
	_, err := engine.FetchToFile(ctx, server.URL+"/img.jpg", target)

	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if _, statErr := os.Stat(target); !os.IsNotExist(statErr) {
		t.Error("cancellation must never leave a file at the final path")
	}
	if _, statErr := os.Stat(target + ".tmp"); !os.IsNotExist(statErr) {
		t.Error("cancellation must clean up the temp file")
	}
}

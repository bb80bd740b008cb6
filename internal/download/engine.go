package download

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/pixreaper/internal/resolver"
	"github.com/tanq16/pixreaper/internal/utils"
)

type DuplicateMode string

const (
	ModeSkip      DuplicateMode = "skip"
	ModeOverwrite DuplicateMode = "overwrite"
	ModeRename    DuplicateMode = "rename"
)

var (
	ErrTooManyRedirects    = errors.New("too many redirects")
	ErrMissingLocation     = errors.New("redirect without location header")
	ErrNotAnImage          = errors.New("response is not an image")
	ErrDisallowedExtension = errors.New("extension not in allow-list")
)

// FetchResult reports where a completed fetch ended up. Status is
// StatusSuccess for a fresh write and StatusSkipped for a detected duplicate;
// Size is the byte count of the file at Path.
type FetchResult struct {
	Status Status
	Path   string
	Size   int64
}

const (
	maxRedirectHops = 5
	// Existing files within this many bytes of the downloaded size are hash
	// compared before being declared duplicates.
	dupSizeWindow = 512
)

// Engine performs a validated, redirect-following fetch to disk with
// duplicate detection against the destination folder.
type Engine struct {
	client utils.HTTPDoer // must not follow redirects itself
	policy *resolver.ExtensionPolicy
	mode   DuplicateMode
}

func NewEngine(client utils.HTTPDoer, policy *resolver.ExtensionPolicy, mode DuplicateMode) *Engine {
	switch mode {
	case ModeSkip, ModeOverwrite, ModeRename:
	default:
		mode = ModeSkip
	}
	return &Engine{client: client, policy: policy, mode: mode}
}

// FetchToFile downloads sourceURL to targetPath. The extension is validated
// before any network call; the body is streamed to a temporary sibling file
// and renamed into place on completion, so no partial file ever appears at
// the final path.
func (e *Engine) FetchToFile(ctx context.Context, sourceURL, targetPath string) (FetchResult, error) {
	target, err := filepath.Abs(targetPath)
	if err != nil {
		return FetchResult{}, fmt.Errorf("error resolving target path: %w", err)
	}
	if !e.policy.Allows(sourceURL) {
		return FetchResult{}, fmt.Errorf("%w: %s", ErrDisallowedExtension, sourceURL)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return FetchResult{}, fmt.Errorf("error creating output directory: %w", err)
	}
	if e.mode == ModeRename {
		if _, err := os.Stat(target); err == nil {
			target = utils.RenewOutputPath(target)
		}
	}

	resp, err := e.get(ctx, sourceURL)
	if err != nil {
		return FetchResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return FetchResult{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return FetchResult{}, fmt.Errorf("%w: content-type %q", ErrNotAnImage, contentType)
	}

	// Fast duplicate path: an existing target matching the advertised length
	// makes the whole fetch a no-op without touching disk.
	if e.mode == ModeSkip && resp.ContentLength > 0 {
		if info, err := os.Stat(target); err == nil && info.Size() == resp.ContentLength {
			log.Debug().Str("op", "download/engine").Str("path", target).Msg("Skipping duplicate (content-length match)")
			return FetchResult{Status: StatusSkipped, Path: target, Size: info.Size()}, nil
		}
	}

	tmpPath := target + ".tmp"
	written, err := e.streamTo(ctx, tmpPath, resp.Body)
	if err != nil {
		os.Remove(tmpPath)
		return FetchResult{}, err
	}

	if e.mode == ModeSkip {
		if info, err := os.Stat(target); err == nil && info.Size() == written {
			os.Remove(tmpPath)
			log.Debug().Str("op", "download/engine").Str("path", target).Msg("Skipping duplicate (size match after stream)")
			return FetchResult{Status: StatusSkipped, Path: target, Size: written}, nil
		}
		if dup, ok := e.findDuplicate(filepath.Dir(target), tmpPath, written); ok {
			os.Remove(tmpPath)
			log.Debug().Str("op", "download/engine").Str("path", dup).Msg("Skipping duplicate (hash match in folder)")
			return FetchResult{Status: StatusSkipped, Path: dup, Size: written}, nil
		}
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return FetchResult{}, fmt.Errorf("error renaming (finalizing) output file: %w", err)
	}
	return FetchResult{Status: StatusSuccess, Path: target, Size: written}, nil
}

// get issues the GET request and follows redirect statuses manually, up to
// maxRedirectHops.
func (e *Engine) get(ctx context.Context, sourceURL string) (*http.Response, error) {
	current := sourceURL
	for hop := 0; ; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, fmt.Errorf("error creating GET request: %w", err)
		}
		req.Header.Set("Referer", current)
		resp, err := e.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("error executing GET request: %w", err)
		}
		switch resp.StatusCode {
		case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
			http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if hop >= maxRedirectHops {
				return nil, fmt.Errorf("%w (limit %d)", ErrTooManyRedirects, maxRedirectHops)
			}
			location := resp.Header.Get("Location")
			if location == "" {
				return nil, ErrMissingLocation
			}
			next, err := resp.Request.URL.Parse(location)
			if err != nil {
				return nil, fmt.Errorf("error parsing redirect location: %w", err)
			}
			log.Debug().Str("op", "download/engine").Msgf("Following redirect %d -> %s", hop+1, next)
			current = next.String()
		default:
			return resp, nil
		}
	}
}

func (e *Engine) streamTo(ctx context.Context, tmpPath string, body io.Reader) (int64, error) {
	outFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("error creating temp file: %w", err)
	}
	defer outFile.Close()

	var written int64
	buffer := make([]byte, utils.DefaultBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		bytesRead, readErr := body.Read(buffer)
		if bytesRead > 0 {
			n, writeErr := outFile.Write(buffer[:bytesRead])
			written += int64(n)
			if writeErr != nil {
				return written, fmt.Errorf("error writing temp file: %w", writeErr)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return written, fmt.Errorf("error reading response body: %w", readErr)
		}
	}
	if err := outFile.Sync(); err != nil {
		return written, fmt.Errorf("error syncing temp file: %w", err)
	}
	return written, nil
}

// findDuplicate scans sibling image files by size and hash-compares the
// near-size matches against the temp file, guarding against size coincidence
// without paying full-hash cost for every file in the folder.
func (e *Engine) findDuplicate(dir, tmpPath string, size int64) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	var tmpHash []byte
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		candidate := filepath.Join(dir, entry.Name())
		if candidate == tmpPath || !e.policy.AllowsExt(filepath.Ext(entry.Name())) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		diff := info.Size() - size
		if diff < -dupSizeWindow || diff > dupSizeWindow {
			continue
		}
		if tmpHash == nil {
			tmpHash, err = hashFile(tmpPath)
			if err != nil {
				return "", false
			}
		}
		candidateHash, err := hashFile(candidate)
		if err != nil {
			continue
		}
		if bytes.Equal(tmpHash, candidateHash) {
			return candidate, true
		}
	}
	return "", false
}

func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

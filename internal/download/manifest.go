package download

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"

	"github.com/tanq16/pixreaper/internal/utils"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRetrying  Status = "retrying"
	StatusSuccess   Status = "success"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Entry is one planned download. Status and Retries are mutated in place by
// the scheduler as attempts complete.
type Entry struct {
	Index   int
	URL     string
	Path    string
	Status  Status
	Retries int
	Size    int64
}

type ManifestOptions struct {
	SavePath  string
	Prefix    string
	Subfolder string // sanitized and appended to SavePath when non-empty
}

// BuildManifest turns resolved direct URLs into download entries with
// sequential zero-padded file names, preserving submission order.
func BuildManifest(urls []string, opts ManifestOptions) []*Entry {
	dir := opts.SavePath
	if dir == "" {
		dir = "."
	}
	if opts.Subfolder != "" {
		dir = filepath.Join(dir, utils.SanitizeFilename(opts.Subfolder))
	}
	width := 3
	for n := len(urls); n >= 1000; n /= 10 {
		width++
	}
	manifest := make([]*Entry, 0, len(urls))
	for i, raw := range urls {
		ext := ".jpg"
		if parsed, err := url.Parse(raw); err == nil {
			if e := path.Ext(parsed.Path); e != "" {
				ext = e
			}
		}
		name := fmt.Sprintf("%s%0*d%s", opts.Prefix, width, i+1, ext)
		manifest = append(manifest, &Entry{
			Index:  i,
			URL:    raw,
			Path:   filepath.Join(dir, name),
			Status: StatusPending,
		})
	}
	return manifest
}

// Summarize tallies terminal entry statuses, for callers that hold a finished
// manifest rather than a run summary.
func Summarize(manifest []*Entry) Summary {
	s := Summary{Total: len(manifest)}
	for _, e := range manifest {
		switch e.Status {
		case StatusSuccess:
			s.Success++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

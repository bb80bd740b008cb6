package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Options is the persisted configuration for a scan/download run. Values are
// read once at the start of a run; flags may override individual fields.
type Options struct {
	SavePath        string   `yaml:"savePath"`
	Prefix          string   `yaml:"prefix"`
	CreateSubfolder bool     `yaml:"createSubfolder"`
	MaxConnections  int      `yaml:"maxConnections"`
	ValidExtensions []string `yaml:"validExtensions"`
	ValidHosts      []string `yaml:"validHosts"`
	DuplicateMode   string   `yaml:"duplicateMode"`
	DebugLogging    bool     `yaml:"debugLogging"`
}

const (
	DuplicateSkip      = "skip"
	DuplicateOverwrite = "overwrite"
	DuplicateRename    = "rename"
)

const maxConnectionsCap = 64

func DefaultOptions() Options {
	return Options{
		SavePath:        ".",
		Prefix:          "",
		CreateSubfolder: true,
		MaxConnections:  10,
		ValidExtensions: []string{"jpg", "jpeg", "png", "gif"},
		ValidHosts:      []string{},
		DuplicateMode:   DuplicateSkip,
	}
}

// Load reads options from a YAML file, merging over defaults. A missing file
// is not an error; it just yields the defaults.
func Load(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return opts, fmt.Errorf("error reading options file: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return DefaultOptions(), fmt.Errorf("error parsing options file: %w", err)
	}
	opts.Normalize()
	return opts, nil
}

// Save writes options back to disk, creating the parent directory if needed.
func Save(path string, opts Options) error {
	opts.Normalize()
	data, err := yaml.Marshal(opts)
	if err != nil {
		return fmt.Errorf("error marshaling options: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating options directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing options file: %w", err)
	}
	return nil
}

// Normalize clamps and canonicalizes user-supplied values: connection count
// within [1, 64], extensions lowercase without leading dots, hosts lowercase
// without a "www." prefix, and a known duplicate mode.
func (o *Options) Normalize() {
	if o.MaxConnections <= 0 {
		o.MaxConnections = DefaultOptions().MaxConnections
	}
	if o.MaxConnections > maxConnectionsCap {
		o.MaxConnections = maxConnectionsCap
	}
	exts := make([]string, 0, len(o.ValidExtensions))
	for _, e := range o.ValidExtensions {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			exts = append(exts, e)
		}
	}
	o.ValidExtensions = exts
	hosts := make([]string, 0, len(o.ValidHosts))
	for _, h := range o.ValidHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		h = strings.TrimPrefix(h, "www.")
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	o.ValidHosts = hosts
	switch o.DuplicateMode {
	case DuplicateSkip, DuplicateOverwrite, DuplicateRename:
	default:
		o.DuplicateMode = DuplicateSkip
	}
}

// Package config loads the project's pairtext.yaml. Everything the pipeline
// needs is explicit here; nothing is read from the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks when --config is not given.
const DefaultPath = "pairtext.yaml"

type Config struct {
	// DocsDir holds the paired example documents.
	DocsDir string `yaml:"docs_dir"`

	// Runtime is the default runtime for notebooks that do not name one.
	Runtime string `yaml:"runtime"`

	// PerCellTimeoutSeconds bounds each cell execution. 0 disables it.
	PerCellTimeoutSeconds int `yaml:"per_cell_timeout_seconds"`

	// Workers bounds how many documents are processed concurrently.
	Workers int `yaml:"workers"`

	// HistoryDB is the sqlite file recording pipeline runs. Empty disables
	// recording.
	HistoryDB string `yaml:"history_db"`

	// RenderDir receives HTML previews from sync-docs --render.
	RenderDir string `yaml:"render_dir"`

	// Commands are the opaque collaborator command lines, run via the shell.
	Commands Commands `yaml:"commands"`
}

type Commands struct {
	Build  string `yaml:"build"`
	Setup  string `yaml:"setup"`
	Lint   string `yaml:"lint"`
	Test   string `yaml:"test"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		DocsDir:               "docs/examples",
		Runtime:               "go",
		PerCellTimeoutSeconds: 30,
		Workers:               4,
		HistoryDB:             ".pairtext/history.db",
		RenderDir:             "docs/preview",
		Commands: Commands{
			Build:  "go build ./...",
			Setup:  "go mod download",
			Lint:   "go vet ./...",
			Test:   "go test ./...",
			Format: "gofmt -w .",
		},
	}
}

// Load reads the config file, filling unset fields from Default. A missing
// file is not an error; the defaults describe a plain Go project.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.DocsDir == "" {
		return errors.New("docs_dir must not be empty")
	}
	if c.Runtime == "" {
		return errors.New("runtime must not be empty")
	}
	if c.PerCellTimeoutSeconds < 0 {
		return errors.New("per_cell_timeout_seconds must not be negative")
	}
	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	return nil
}

func (c Config) PerCellTimeout() time.Duration {
	return time.Duration(c.PerCellTimeoutSeconds) * time.Second
}

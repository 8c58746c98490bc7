package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxPages           = 20
	DefaultTimeout            = 60 * time.Second
	DefaultMinEmbeddedChars   = 50
	DefaultMinTokenConfidence = 30.0
	DefaultRenderDPI          = 150
	DefaultLanguage           = "eng"
)

// PipelineSettings is the read-only view every worker of a batch shares.
// It is passed by value and never re-read mid-batch.
type PipelineSettings struct {
	MaxPages           int           `yaml:"max_pages"`
	Timeout            time.Duration `yaml:"timeout"`
	Workers            int           `yaml:"workers"`
	MinEmbeddedChars   int           `yaml:"min_embedded_chars"`
	MinTokenConfidence float64       `yaml:"min_token_confidence"` // percent, 0-100
	RenderDPI          int           `yaml:"render_dpi"`
	Language           string        `yaml:"language"`
}

// DefaultPipelineSettings returns the built-in safe defaults.
func DefaultPipelineSettings() PipelineSettings {
	return PipelineSettings{
		MaxPages:           DefaultMaxPages,
		Timeout:            DefaultTimeout,
		Workers:            defaultWorkers(),
		MinEmbeddedChars:   DefaultMinEmbeddedChars,
		MinTokenConfidence: DefaultMinTokenConfidence,
		RenderDPI:          DefaultRenderDPI,
		Language:           DefaultLanguage,
	}
}

// Snapshot reads the pipeline tunables from the environment, then from the
// optional PIPELINE_CONFIG_FILE overlay. Callers take one snapshot per batch.
func Snapshot() (PipelineSettings, error) {
	s := DefaultPipelineSettings()

	s.MaxPages = getEnvInt("MAX_DOCUMENT_PAGES", s.MaxPages)
	s.Timeout = time.Duration(getEnvInt("OCR_TIMEOUT_SECONDS", int(s.Timeout/time.Second))) * time.Second
	s.Workers = getEnvInt("BATCH_WORKERS", s.Workers)
	s.MinEmbeddedChars = getEnvInt("MIN_EMBEDDED_TEXT_CHARS", s.MinEmbeddedChars)
	s.MinTokenConfidence = float64(getEnvInt("OCR_MIN_TOKEN_CONFIDENCE", int(s.MinTokenConfidence)))
	s.RenderDPI = getEnvInt("OCR_RENDER_DPI", s.RenderDPI)
	s.Language = getEnv("OCR_LANGUAGE", s.Language)

	if path := getEnv("PIPELINE_CONFIG_FILE", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return PipelineSettings{}, fmt.Errorf("read pipeline config: %w", err)
		}
		if s, err = s.Overlay(data); err != nil {
			return PipelineSettings{}, err
		}
	}

	return s.Normalize(), nil
}

// Overlay applies the non-zero fields of a YAML document on top of s.
func (s PipelineSettings) Overlay(data []byte) (PipelineSettings, error) {
	var file PipelineSettings
	if err := yaml.Unmarshal(data, &file); err != nil {
		return s, fmt.Errorf("parse pipeline config: %w", err)
	}
	if file.MaxPages != 0 {
		s.MaxPages = file.MaxPages
	}
	if file.Timeout != 0 {
		s.Timeout = file.Timeout
	}
	if file.Workers != 0 {
		s.Workers = file.Workers
	}
	if file.MinEmbeddedChars != 0 {
		s.MinEmbeddedChars = file.MinEmbeddedChars
	}
	if file.MinTokenConfidence != 0 {
		s.MinTokenConfidence = file.MinTokenConfidence
	}
	if file.RenderDPI != 0 {
		s.RenderDPI = file.RenderDPI
	}
	if file.Language != "" {
		s.Language = file.Language
	}
	return s, nil
}

// Normalize replaces out-of-range values with defaults.
func (s PipelineSettings) Normalize() PipelineSettings {
	d := DefaultPipelineSettings()
	if s.MaxPages <= 0 {
		s.MaxPages = d.MaxPages
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	if s.Workers <= 0 {
		s.Workers = d.Workers
	}
	if s.MinEmbeddedChars <= 0 {
		s.MinEmbeddedChars = d.MinEmbeddedChars
	}
	if s.MinTokenConfidence < 0 || s.MinTokenConfidence > 100 {
		s.MinTokenConfidence = d.MinTokenConfidence
	}
	if s.RenderDPI <= 0 {
		s.RenderDPI = d.RenderDPI
	}
	if s.Language == "" {
		s.Language = d.Language
	}
	return s
}

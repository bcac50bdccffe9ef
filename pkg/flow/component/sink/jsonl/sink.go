// Package jsonl provides a Sink that appends records to a file as JSON lines.
// Flush syncs the file, so checkpointed batches survive a process crash.
package jsonl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"

	port "github.com/flowmill/flowmill/pkg/flow/core/application/port"
	registry "github.com/flowmill/flowmill/pkg/flow/core/registry"
	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
)

const moduleName = "jsonl_sink"

// Kind is the registry identifier of this sink.
const Kind = "jsonl"

// Config holds the configuration for the jsonl sink.
type Config struct {
	// Path is the output file. Parent directories are created as needed.
	Path string `mapstructure:"path"`
}

// Sink appends JSON-encoded records to a file, one per line.
type Sink struct {
	path string
	file *os.File
}

// New creates a jsonl Sink from decoded params and opens the output file in append mode.
func New(params map[string]interface{}) (*Sink, error) {
	var config Config
	if err := mapstructure.Decode(params, &config); err != nil {
		return nil, exception.NewPermanentError(moduleName, "failed to decode jsonl sink params", err)
	}
	if config.Path == "" {
		return nil, exception.NewPermanentError(moduleName, "jsonl sink requires a 'path' param", nil)
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return nil, exception.NewTransientError(moduleName, fmt.Sprintf("failed to create output directory for '%s'", config.Path), err)
	}
	file, err := os.OpenFile(config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, exception.NewTransientError(moduleName, fmt.Sprintf("failed to open output file '%s'", config.Path), err)
	}
	return &Sink{path: config.Path, file: file}, nil
}

// Write appends one JSON line per record.
func (s *Sink) Write(ctx context.Context, records []port.Record) error {
	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return exception.NewPermanentError(moduleName, "failed to encode record", err)
		}
		if _, err := s.file.Write(append(data, '\n')); err != nil {
			return exception.NewTransientError(moduleName, fmt.Sprintf("failed to write to '%s'", s.path), err)
		}
	}
	return nil
}

// Flush syncs written lines to stable storage.
func (s *Sink) Flush(ctx context.Context) error {
	if err := s.file.Sync(); err != nil {
		return exception.NewTransientError(moduleName, fmt.Sprintf("failed to sync '%s'", s.path), err)
	}
	return nil
}

// Close syncs and closes the output file.
func (s *Sink) Close(ctx context.Context) error {
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return exception.NewTransientError(moduleName, fmt.Sprintf("failed to sync '%s' on close", s.path), err)
	}
	return s.file.Close()
}

var _ port.Sink = (*Sink)(nil)

func init() {
	registry.RegisterSink(Kind, func(ctx context.Context, params map[string]interface{}) (port.Sink, error) {
		return New(params)
	})
}

// Package parquet provides a Sink that writes records to local Parquet part
// files. Records are buffered between checkpoints; Flush finalizes one part
// file per checkpointed batch, so resumed runs never rewrite closed files.
package parquet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	parquetformat "github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	port "github.com/flowmill/flowmill/pkg/flow/core/application/port"
	registry "github.com/flowmill/flowmill/pkg/flow/core/registry"
	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
	"github.com/flowmill/flowmill/pkg/flow/support/util/logger"
)

const moduleName = "parquet_sink"

// Kind is the registry identifier of this sink.
const Kind = "parquet"

// Config holds the configuration for the parquet sink.
type Config struct {
	// OutputDir is the local directory receiving part files.
	OutputDir string `mapstructure:"output_dir"`
	// Schema is the parquet-go JSON schema describing the records.
	Schema string `mapstructure:"schema"`
	// CompressionType is the Parquet compression codec ("SNAPPY", "GZIP", "NONE").
	CompressionType string `mapstructure:"compression_type"`
}

// Sink buffers records and writes one Parquet part file per Flush.
type Sink struct {
	config   Config
	codec    parquetformat.CompressionCodec
	buffered []port.Record
}

// New creates a parquet Sink from decoded params.
func New(params map[string]interface{}) (*Sink, error) {
	var config Config
	if err := mapstructure.Decode(params, &config); err != nil {
		return nil, exception.NewPermanentError(moduleName, "failed to decode parquet sink params", err)
	}
	if config.OutputDir == "" {
		return nil, exception.NewPermanentError(moduleName, "parquet sink requires an 'output_dir' param", nil)
	}
	if config.Schema == "" {
		return nil, exception.NewPermanentError(moduleName, "parquet sink requires a 'schema' param", nil)
	}
	if config.CompressionType == "" {
		config.CompressionType = "SNAPPY"
	}
	codec, err := getCompressionCodec(config.CompressionType)
	if err != nil {
		return nil, exception.NewPermanentError(moduleName, fmt.Sprintf("invalid compression type '%s'", config.CompressionType), err)
	}

	if err := os.MkdirAll(config.OutputDir, 0o755); err != nil {
		return nil, exception.NewTransientError(moduleName, fmt.Sprintf("failed to create output directory '%s'", config.OutputDir), err)
	}
	return &Sink{config: config, codec: codec}, nil
}

// Write accumulates records in the internal buffer. No file is produced here.
func (s *Sink) Write(ctx context.Context, records []port.Record) error {
	s.buffered = append(s.buffered, records...)
	return nil
}

// Flush writes all buffered records to a new part file and clears the buffer.
// An empty buffer produces no file.
func (s *Sink) Flush(ctx context.Context) error {
	if len(s.buffered) == 0 {
		return nil
	}

	buf := new(bytes.Buffer)
	pw, err := writer.NewJSONWriterFromWriter(s.config.Schema, buf, 1)
	if err != nil {
		return exception.NewPermanentError(moduleName, "failed to create Parquet writer from schema", err)
	}
	pw.CompressionType = s.codec

	for _, record := range s.buffered {
		data, err := json.Marshal(record)
		if err != nil {
			return exception.NewPermanentError(moduleName, "failed to encode record for Parquet", err)
		}
		if err := pw.Write(string(data)); err != nil {
			return exception.NewPermanentError(moduleName, "failed to write record to Parquet", err)
		}
	}

	// WriteStop may panic inside the library; convert panics to errors.
	if err := stopWriter(pw); err != nil {
		return err
	}

	fileName := fmt.Sprintf("part_%s_%s.parquet", time.Now().Format("20060102150405"), generateRandomString(8))
	path := filepath.Join(s.config.OutputDir, fileName)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return exception.NewTransientError(moduleName, fmt.Sprintf("failed to write part file '%s'", path), err)
	}

	logger.Infof("Parquet sink wrote %d records to %s", len(s.buffered), path)
	s.buffered = s.buffered[:0]
	return nil
}

// Close flushes any remaining buffered records.
func (s *Sink) Close(ctx context.Context) error {
	var multiErr error
	if err := s.Flush(ctx); err != nil {
		multiErr = multierror.Append(multiErr, err)
	}
	return multiErr
}

var _ port.Sink = (*Sink)(nil)

func stopWriter(pw *writer.JSONWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = exception.NewPermanentError(moduleName, fmt.Sprintf("Parquet writer panicked during finalize: %v", r), nil)
		}
	}()
	if stopErr := pw.WriteStop(); stopErr != nil {
		err = exception.NewPermanentError(moduleName, "failed to finalize Parquet file", stopErr)
	}
	return err
}

// getCompressionCodec returns the Parquet compression codec from a string.
func getCompressionCodec(compressionType string) (parquetformat.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "SNAPPY":
		return parquetformat.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquetformat.CompressionCodec_GZIP, nil
	case "NONE", "":
		return parquetformat.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}

// generateRandomString generates a random string of the specified length.
// Used to keep part file names unique within a second.
func generateRandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	seededRand := rand.New(rand.NewSource(time.Now().UnixNano()))
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[seededRand.Intn(len(charset))]
	}
	return string(b)
}

func init() {
	registry.RegisterSink(Kind, func(ctx context.Context, params map[string]interface{}) (port.Sink, error) {
		return New(params)
	})
}

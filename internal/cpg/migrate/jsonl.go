package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// FromJSONL reads one Record per JSON value from r. Numbers keep their
// exact decimal text until they are converted to property values.
func FromJSONL(r io.Reader) ([]Record, error) {
	var records []Record
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	for n := 1; ; n++ {
		var rec Record
		if err := decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON in record %d: %w", n, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadJSONLFile reads a JSONL file from disk.
func ReadJSONLFile(path string) ([]Record, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	return FromJSONL(file)
}

// ImportJSONL reads path and imports its records.
func (im *Importer) ImportJSONL(ctx context.Context, path string) (*Result, error) {
	records, err := ReadJSONLFile(path)
	if err != nil {
		return nil, err
	}
	return im.Import(ctx, records)
}

// Package snapshot reads and writes the compressed whole-database document
// used by the snapshot sync path: zlib-deflated JSON of the form
// {"lastSync": ..., "db": {"<table>": [rows...]}}.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zlib"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/schema"
)

// FileName is the multipart file name the snapshot is uploaded under.
const FileName = "db.json.gz"

// MaxSize caps the inflated document so a hostile peer cannot exhaust memory.
const MaxSize = 1 << 30

// Encode deflates snap into a new buffer.
func Encode(snap *schema.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write deflates snap into w.
func Write(w io.Writer, snap *schema.Snapshot) error {
	zw, err := zlib.NewWriterLevel(w, zlib.BestSpeed)
	if err != nil {
		return fmt.Errorf("failed to create deflater: %w", err)
	}
	if err := json.NewEncoder(zw).Encode(snap); err != nil {
		zw.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	return nil
}

// Decode inflates and parses a snapshot. Any failure is a TransportFailure:
// a document that does not inflate or parse is never partially applied.
func Decode(data []byte) (*schema.Snapshot, error) {
	return Read(bytes.NewReader(data))
}

// Read inflates and parses a snapshot from r.
func Read(r io.Reader) (*schema.Snapshot, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, cpgerr.TransportFailure(err, "snapshot does not inflate")
	}
	defer zr.Close()

	dec := json.NewDecoder(io.LimitReader(zr, MaxSize))
	dec.UseNumber()

	var snap schema.Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, cpgerr.TransportFailure(err, "snapshot is not a valid document")
	}
	if snap.DB == nil {
		snap.DB = map[string][]schema.Row{}
	}
	return &snap, nil
}

// WriteFile stores snap at path, replacing any file atomically.
func WriteFile(path string, snap *schema.Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return nil
}

// ReadFile loads the snapshot stored at path.
func ReadFile(path string) (*schema.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()
	return Read(f)
}

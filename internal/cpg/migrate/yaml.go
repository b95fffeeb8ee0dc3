package migrate

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is a YAML seed document:
//
//	nodes:
//	  - type: language
//	    ref: eng
//	    properties: {name: English}
//	  - type: word
//	    ref: hello
//	    properties: {name: hello}
//	relationships:
//	  - type: word-to-language-entry
//	    from: hello
//	    to: eng
type Seed struct {
	Nodes         []Record `yaml:"nodes"`
	Relationships []Record `yaml:"relationships"`
}

// Records returns the nodes followed by the relationships.
func (s *Seed) Records() ([]Record, error) {
	records := make([]Record, 0, len(s.Nodes)+len(s.Relationships))
	for i, n := range s.Nodes {
		if n.IsRelationship() {
			return nil, fmt.Errorf("nodes[%d]: from/to are not allowed on a node", i)
		}
		records = append(records, n)
	}
	for i, r := range s.Relationships {
		if r.From == "" || r.To == "" {
			return nil, fmt.Errorf("relationships[%d]: from and to are required", i)
		}
		records = append(records, r)
	}
	return records, nil
}

// FromYAML decodes one seed document.
func FromYAML(r io.Reader) (*Seed, error) {
	var seed Seed
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&seed); err != nil {
		if err == io.EOF {
			return &seed, nil
		}
		return nil, fmt.Errorf("invalid YAML seed: %w", err)
	}
	return &seed, nil
}

// ReadYAMLFile reads a seed document from disk.
func ReadYAMLFile(path string) (*Seed, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open YAML file: %w", err)
	}
	defer file.Close()

	return FromYAML(file)
}

// ImportYAML reads the seed at path and imports it.
func (im *Importer) ImportYAML(ctx context.Context, path string) (*Result, error) {
	seed, err := ReadYAMLFile(path)
	if err != nil {
		return nil, err
	}
	records, err := seed.Records()
	if err != nil {
		return nil, err
	}
	return im.Import(ctx, records)
}

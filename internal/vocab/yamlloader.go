package vocab

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk vocabulary format.
//
//	terms:
//	  - term: Priya Raman
//	    kind: person
//	    note: Head of Platform
//	  - term: Kubernetes
//	    kind: product
type File struct {
	Terms []Term `yaml:"terms"`
}

// LoadFile reads a vocabulary YAML file from disk.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: open %q: %w", path, err)
	}
	defer f.Close()

	vf, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("vocab: parse %q: %w", path, err)
	}
	return vf, nil
}

// LoadFromReader parses vocabulary YAML. Unknown keys are rejected and every
// term is validated.
func LoadFromReader(r io.Reader) (*File, error) {
	var vf File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&vf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("vocab: decode yaml: %w", err)
	}
	var errs []error
	for i, t := range vf.Terms {
		if err := t.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("terms[%d]: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	return &vf, nil
}

// Build assembles a Store from vocabulary files and inline terms, the way
// the configuration names them. Inline terms get [KindOther].
func Build(files []string, inline []string) (*Store, error) {
	s := NewStore()
	for _, path := range files {
		vf, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		s.Add(vf.Terms...)
	}
	for _, text := range inline {
		s.Add(Term{Text: text})
	}
	return s, nil
}

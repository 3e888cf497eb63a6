package spanindex

import (
	"fmt"
	"slices"
	"strings"

	"github.com/meigma/spanindex/lookup"
)

// AllFiles selects every registered file in Build and Lookup.
const AllFiles = "all"

// Codec names accepted in FileSpec.Codec.
const (
	CodecAuto = "auto"
	CodecGzip = "gzip"
	CodecZstd = "zstd"
)

// FileSpec describes one registered file.
type FileSpec struct {
	// ID names the file in the lookup table and in requests.
	ID string `mapstructure:"id"`

	// Path is a local path, an http(s) URL or an s3://bucket/key URL.
	Path string `mapstructure:"path"`

	// EntityColumn is the column the file is sorted by. Defaults to subject_id.
	EntityColumn string `mapstructure:"entity_column"`

	// Codec is auto, gzip or zstd. Defaults to auto, which sniffs magic bytes.
	Codec string `mapstructure:"codec"`

	// Rows is the expected row count, if known. It is informational.
	Rows int64 `mapstructure:"rows"`
}

// Registry is an immutable, ordered set of files.
type Registry struct {
	specs []FileSpec
	byID  map[string]int
}

// NewRegistry validates specs and returns a registry in the given order.
func NewRegistry(specs ...FileSpec) (*Registry, error) {
	r := &Registry{
		specs: make([]FileSpec, 0, len(specs)),
		byID:  make(map[string]int, len(specs)),
	}
	for _, spec := range specs {
		if err := validateID(spec.ID); err != nil {
			return nil, err
		}
		if _, dup := r.byID[spec.ID]; dup {
			return nil, fmt.Errorf("spanindex: duplicate file id %q", spec.ID)
		}
		if spec.Path == "" {
			return nil, fmt.Errorf("spanindex: file %q has no path", spec.ID)
		}
		if spec.EntityColumn == "" {
			spec.EntityColumn = lookup.DefaultEntityColumn
		}
		switch spec.Codec {
		case "":
			spec.Codec = CodecAuto
		case CodecAuto, CodecGzip, CodecZstd:
		default:
			return nil, fmt.Errorf("spanindex: file %q: unknown codec %q", spec.ID, spec.Codec)
		}
		if spec.Rows < 0 {
			return nil, fmt.Errorf("spanindex: file %q: negative row count", spec.ID)
		}
		r.byID[spec.ID] = len(r.specs)
		r.specs = append(r.specs, spec)
	}
	return r, nil
}

func validateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("spanindex: empty file id")
	case id == AllFiles:
		return fmt.Errorf("spanindex: file id %q is reserved", id)
	case strings.ContainsAny(id, ", \t\r\n\"/\\"):
		return fmt.Errorf("spanindex: invalid file id %q", id)
	}
	return nil
}

// Lookup returns the spec registered under id.
func (r *Registry) Lookup(id string) (FileSpec, error) {
	i, ok := r.byID[id]
	if !ok {
		return FileSpec{}, fmt.Errorf("%w: file %q", ErrNotFound, id)
	}
	return r.specs[i], nil
}

// IDs returns the file ids in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.specs))
	for i, s := range r.specs {
		ids[i] = s.ID
	}
	return ids
}

// Specs returns the registered specs in registration order.
func (r *Registry) Specs() []FileSpec {
	return slices.Clone(r.specs)
}

// Len returns the number of registered files.
func (r *Registry) Len() int {
	return len(r.specs)
}

// Resolve expands AllFiles to every id, or checks that a single id is registered.
func (r *Registry) Resolve(id string) ([]string, error) {
	if id == AllFiles {
		return r.IDs(), nil
	}
	if _, err := r.Lookup(id); err != nil {
		return nil, err
	}
	return []string{id}, nil
}

// Package catalog holds the static list of validators and resolves region
// codes to display names.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownValidator = errors.New("unknown validator")
	ErrEmptyCatalog     = errors.New("validator catalog is empty")
)

//go:embed validators.yaml
var defaultValidators []byte

// Validator is a remote endpoint offering region listing and lease issuance.
type Validator struct {
	ID       string
	Endpoint string
}

func (v Validator) String() string {
	return fmt.Sprintf("UID %s @ %s", v.ID, v.Endpoint)
}

type validatorEntry struct {
	UID  yaml.Node `yaml:"uid"`
	Axon string    `yaml:"axon"`
}

type catalogFile struct {
	Validators []validatorEntry `yaml:"validators"`
}

// Catalog is an immutable, ordered set of validators.
type Catalog struct {
	validators []Validator
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultValidators)
}

// Load reads a catalog from path. An empty path yields the default catalog.
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read validator catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog. Entries are kept in file order; duplicate,
// incomplete or misspelled entries are rejected.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode validator catalog: %w", err)
	}

	seen := make(map[string]bool, len(file.Validators))
	validators := make([]Validator, 0, len(file.Validators))
	for i, entry := range file.Validators {
		id := strings.TrimSpace(entry.UID.Value)
		endpoint := strings.TrimSpace(entry.Axon)
		if id == "" || endpoint == "" {
			return nil, fmt.Errorf("validator entry %d: uid and axon are required", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("validator entry %d: duplicate uid %s", i, id)
		}
		seen[id] = true
		validators = append(validators, Validator{ID: id, Endpoint: endpoint})
	}
	if len(validators) == 0 {
		return nil, ErrEmptyCatalog
	}
	return &Catalog{validators: validators}, nil
}

// All returns a copy of the validators in catalog order.
func (c *Catalog) All() []Validator {
	return append([]Validator(nil), c.validators...)
}

// Lookup finds a validator by uid.
func (c *Catalog) Lookup(id string) (Validator, error) {
	id = strings.TrimSpace(id)
	for _, v := range c.validators {
		if v.ID == id {
			return v, nil
		}
	}
	return Validator{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownValidator, id, strings.Join(c.ids(), ", "))
}

func (c *Catalog) ids() []string {
	ids := make([]string, len(c.validators))
	for i, v := range c.validators {
		ids[i] = v.ID
	}
	sort.SliceStable(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}

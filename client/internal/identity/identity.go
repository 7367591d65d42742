package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/syndicate/syndicate/pkg/atomicfile"
	"github.com/syndicate/syndicate/pkg/lamport"
)

// DefaultDir holds identity files when no directory is configured.
const DefaultDir = "./data/content/records"

// Identity is a content source's persisted ID and clock.
//
// Identity is safe for concurrent use.
type Identity struct {
	path  string
	id    string
	clock *lamport.Clock

	mu sync.Mutex // serialises Save
}

type record struct {
	UUID  string `json:"uuid"`
	Clock uint64 `json:"clock"`
}

// PathFor returns the identity file for a content input file: one identity
// per input, named after the input without its extension.
func PathFor(dir, input string) string {
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, base+".json")
}

// Open loads the identity at path, creating and saving a fresh one with a
// random UUID when the file does not exist.
func Open(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		id := &Identity{path: path, id: uuid.NewString(), clock: lamport.New(0)}
		if err := id.Save(); err != nil {
			return nil, err
		}
		return id, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity: read %q: %w", path, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("identity: decode %q: %w", path, err)
	}
	parsed, err := uuid.Parse(rec.UUID)
	if err != nil {
		return nil, fmt.Errorf("identity: %q: invalid uuid: %w", path, err)
	}
	return &Identity{path: path, id: parsed.String(), clock: lamport.New(rec.Clock)}, nil
}

// ID returns the source identifier sent in the UUID header.
func (i *Identity) ID() string { return i.id }

// Path returns the backing file.
func (i *Identity) Path() string { return i.path }

// Tick advances the clock for an outgoing request.
func (i *Identity) Tick() uint64 { return i.clock.Tick() }

// Observe folds a response clock into the local one.
func (i *Identity) Observe(remote uint64) uint64 { return i.clock.Observe(remote) }

// Lamport returns the current clock value.
func (i *Identity) Lamport() uint64 { return i.clock.Peek() }

// Save writes the identity atomically.
func (i *Identity) Save() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	data, err := json.Marshal(record{UUID: i.id, Clock: i.clock.Peek()})
	if err != nil {
		return fmt.Errorf("identity: encode: %w", err)
	}
	if err := atomicfile.WriteFile(i.path, data, 0o600); err != nil {
		return fmt.Errorf("identity: save: %w", err)
	}
	return nil
}

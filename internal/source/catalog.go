package source

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Channel is one catalog entry. Live is the locator served when no time range
// is requested; Playback is a template with {utc...}/{utcend...} placeholders.
type Channel struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Live     string `yaml:"live"`
	Playback string `yaml:"playback"`
}

// Catalog is the lookup abstraction for channels.
// Implementations can be in-memory, file-based, or remote.
type Catalog interface {
	Lookup(id string) (Channel, bool)
}

type catalogFile struct {
	Channels []Channel `yaml:"channels"`
}

// InMemoryCatalog is a read-only in-memory implementation of Catalog.
// It is built once at startup and safe for concurrent lookups.
type InMemoryCatalog struct {
	channels map[string]Channel
}

// NewInMemoryCatalog returns a catalog holding channels. IDs must be non-empty
// and unique.
func NewInMemoryCatalog(channels ...Channel) (*InMemoryCatalog, error) {
	c := &InMemoryCatalog{channels: make(map[string]Channel, len(channels))}
	for i, ch := range channels {
		ch.ID = strings.TrimSpace(ch.ID)
		if ch.ID == "" {
			return nil, fmt.Errorf("channel %d: missing id", i)
		}
		if _, dup := c.channels[ch.ID]; dup {
			return nil, fmt.Errorf("channel %q: duplicate id", ch.ID)
		}
		c.channels[ch.ID] = ch
	}
	return c, nil
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(data []byte) (*InMemoryCatalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return NewInMemoryCatalog(f.Channels...)
}

// LoadCatalog reads and parses the YAML catalog at path. The returned error
// wraps fs.ErrNotExist when the file is missing.
func LoadCatalog(path string) (*InMemoryCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// Lookup implements Catalog.Lookup.
func (c *InMemoryCatalog) Lookup(id string) (Channel, bool) {
	ch, ok := c.channels[id]
	return ch, ok
}

// Len returns the number of channels.
func (c *InMemoryCatalog) Len() int {
	return len(c.channels)
}

// IDs returns the channel IDs in sorted order.
func (c *InMemoryCatalog) IDs() []string {
	ids := make([]string, 0, len(c.channels))
	for id := range c.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

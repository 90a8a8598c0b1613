package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Pack describes a purchasable token pack
type Pack struct {
	ID            string `toml:"id"`
	Tokens        int64  `toml:"tokens"`
	Lifetime      bool   `toml:"lifetime"`
	MonthlyTokens int64  `toml:"monthly_tokens"` // Refill issued each month for lifetime packs
}

// PackCatalog is the set of packs the payment webhook may reference
type PackCatalog struct {
	Packs []Pack `toml:"pack"`

	byID map[string]Pack
}

// DefaultPackCatalog returns the built-in catalog used when no file is configured
func DefaultPackCatalog() *PackCatalog {
	c := &PackCatalog{
		Packs: []Pack{
			{ID: "starter", Tokens: 50},
			{ID: "pro", Tokens: 200},
			{ID: "lifetime", Tokens: 300, Lifetime: true, MonthlyTokens: 100},
		},
	}
	c.index()
	return c
}

// LoadPackCatalog reads a TOML catalog from path, or returns the default catalog when path is empty
func LoadPackCatalog(path string) (*PackCatalog, error) {
	if path == "" {
		return DefaultPackCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pack catalog %s: %w", path, err)
	}
	return ParsePackCatalog(data)
}

// ParsePackCatalog decodes and validates a TOML pack catalog
func ParsePackCatalog(data []byte) (*PackCatalog, error) {
	var c PackCatalog
	if _, err := toml.Decode(string(data), &c); err != nil {
		return nil, fmt.Errorf("failed to decode pack catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Packs))
	for _, p := range c.Packs {
		if p.ID == "" {
			return nil, fmt.Errorf("pack catalog entry missing id")
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("duplicate pack id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.Tokens <= 0 {
			return nil, fmt.Errorf("pack %q must grant a positive number of tokens", p.ID)
		}
		if p.Lifetime && p.MonthlyTokens <= 0 {
			return nil, fmt.Errorf("lifetime pack %q needs monthly_tokens", p.ID)
		}
	}

	c.index()
	return &c, nil
}

// Lookup returns the pack with the given id
func (c *PackCatalog) Lookup(id string) (Pack, bool) {
	if c == nil {
		return Pack{}, false
	}
	if c.byID == nil {
		c.index()
	}
	p, ok := c.byID[id]
	return p, ok
}

func (c *PackCatalog) index() {
	c.byID = make(map[string]Pack, len(c.Packs))
	for _, p := range c.Packs {
		c.byID[p.ID] = p
	}
}

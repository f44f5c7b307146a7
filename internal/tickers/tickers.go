package tickers

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the tracked-ticker document: symbols plus display names.
type Config struct {
	Tickers []string          `yaml:"tickers"`
	Mapping map[string]string `yaml:"mapping"`
}

// Load reads and validates a ticker document from path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ticker config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a ticker document.
func Parse(raw []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode ticker config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects empty or duplicated ticker lists.
func (c *Config) Validate() error {
	if len(c.Tickers) == 0 {
		return errors.New("ticker config: tickers must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Tickers))
	for i, t := range c.Tickers {
		t = strings.TrimSpace(t)
		if t == "" {
			return fmt.Errorf("ticker config: tickers[%d] is blank", i)
		}
		if _, dup := seen[t]; dup {
			return fmt.Errorf("ticker config: %s listed twice", t)
		}
		seen[t] = struct{}{}
		c.Tickers[i] = t
	}
	return nil
}

// Names returns ticker -> display name for every tracked ticker.
func (c *Config) Names() map[string]string {
	out := make(map[string]string, len(c.Tickers))
	for _, t := range c.Tickers {
		out[t] = c.DisplayName(t)
	}
	return out
}

// DisplayName resolves a ticker's description. The mapping may be keyed by the full
// symbol or by its display symbol; the display symbol is the fallback.
func (c *Config) DisplayName(ticker string) string {
	if name, ok := c.Mapping[ticker]; ok && name != "" {
		return name
	}
	sym := DisplaySymbol(ticker)
	if name, ok := c.Mapping[sym]; ok && name != "" {
		return name
	}
	return sym
}

// exchangeSuffixes are the Yahoo market suffixes DisplaySymbol removes.
// Share classes such as "BRK.B" are not in the set and are kept.
var exchangeSuffixes = map[string]struct{}{
	"TO": {}, "V": {}, "CN": {}, "NE": {},
	"L": {}, "IL": {}, "PA": {}, "DE": {}, "F": {}, "AS": {}, "BR": {}, "MI": {}, "MC": {},
	"SW": {}, "ST": {}, "OL": {}, "CO": {}, "HE": {}, "IR": {}, "VI": {}, "LS": {},
	"HK": {}, "T": {}, "AX": {}, "NZ": {}, "SI": {}, "KS": {}, "KQ": {}, "SS": {}, "SZ": {},
	"NS": {}, "BO": {}, "TW": {}, "TWO": {}, "SA": {}, "MX": {}, "JO": {}, "TA": {},
}

// DisplaySymbol strips a trailing exchange suffix ("VFV.TO" -> "VFV", "VOD.L" -> "VOD").
// Anything else after the last '.' is part of the symbol ("BRK.B" stays "BRK.B").
func DisplaySymbol(ticker string) string {
	idx := strings.LastIndexByte(ticker, '.')
	if idx <= 0 {
		return ticker
	}
	if _, ok := exchangeSuffixes[strings.ToUpper(ticker[idx+1:])]; !ok {
		return ticker
	}
	return ticker[:idx]
}

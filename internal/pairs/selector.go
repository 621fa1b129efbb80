// Package pairs decides which trading pairs the engine streams.
//
// The selection is whitelist-then-blacklist: a symbol must match at least
// one whitelist entry and no blacklist entry. Entries are either literal
// pairs ("BTC/USDC") or glob patterns ("*/USDC", "BTC/*"). The selected
// set is fixed for the lifetime of a run; edits to the config file take
// effect on restart.
package pairs

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"crypto-streamv1/internal/model"
)

// Config is the on-disk pair selection document.
type Config struct {
	Whitelist []string `json:"whitelist"`
	Blacklist []string `json:"blacklist"`
}

// ConfigError wraps any failure to load or parse the pair config so
// callers can distinguish a bad config from an empty selection.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pair config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// LoadConfig reads the pair selection document from path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Select filters universe (exchange symbols, e.g. "BTCUSDC") through the
// whitelist and blacklist and returns the admitted pairs sorted by symbol.
// An empty whitelist admits nothing.
func (c *Config) Select(universe []string) []model.Pair {
	white := compilePatterns(c.Whitelist)
	black := compilePatterns(c.Blacklist)

	seen := make(map[string]bool, len(universe))
	var out []model.Pair
	for _, sym := range universe {
		sym = model.NormalizeSymbol(sym)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		if !matchAny(white, sym) || matchAny(black, sym) {
			continue
		}
		out = append(out, model.Pair{Symbol: sym})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// compilePatterns turns config entries into anchored regexps. "*" in an
// entry matches any run of symbol characters; everything else is literal.
// Entries are normalized the same way symbols are, so "btc/usdc" and
// "BTC/USDC" compile identically. Invalid entries are skipped.
func compilePatterns(entries []string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(entries))
	for _, e := range entries {
		e = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(e), "/", ""))
		if e == "" {
			continue
		}
		var b strings.Builder
		b.WriteString("^")
		for _, r := range e {
			if r == '*' {
				b.WriteString("[A-Z0-9]+")
			} else {
				b.WriteString(regexp.QuoteMeta(string(r)))
			}
		}
		b.WriteString("$")
		re, err := regexp.Compile(b.String())
		if err != nil {
			continue
		}
		res = append(res, re)
	}
	return res
}

func matchAny(patterns []*regexp.Regexp, sym string) bool {
	for _, re := range patterns {
		if re.MatchString(sym) {
			return true
		}
	}
	return false
}

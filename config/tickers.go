package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// TickerList is the set of symbols to download, optionally grouped by board.
type TickerList struct {
	Tickers []string            `yaml:"tickers"`
	Boards  map[string][]string `yaml:"boards"`
}

// LoadTickers reads a ticker list file. Symbols are trimmed, upper-cased and
// de-duplicated; the flat list comes first followed by boards in name order.
func LoadTickers(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tickers file: %w", err)
	}
	var list TickerList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse tickers file: %w", err)
	}

	boards := make([]string, 0, len(list.Boards))
	for name := range list.Boards {
		boards = append(boards, name)
	}
	sort.Strings(boards)

	all := append([]string{}, list.Tickers...)
	for _, name := range boards {
		all = append(all, list.Boards[name]...)
	}
	return CleanTickers(all), nil
}

// CleanTickers normalises a raw list of symbols, dropping blanks and repeats
// while keeping first-seen order.
func CleanTickers(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

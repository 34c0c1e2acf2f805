package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the largest edit distance still offered as a
// "did you mean?" suggestion.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of every section. Lists are sorted so that
// ties in edit distance resolve deterministically.
var knownKeys = map[string][]string{
	"api":        {"customer_id", "timeout", "token", "url"},
	"deployment": {"cpu", "domain", "env", "framework", "memory", "mode", "name"},
	"watch": {
		"debounce_interval", "not_found_grace", "override_grace",
		"poll_attempts", "poll_interval", "skip_dirs", "skip_files",
	},
	"logging": {"log_file", "log_format", "log_level", "log_retention_days"},
}

var knownSections = func() []string {
	names := make([]string, 0, len(knownKeys))
	for name := range knownKeys {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// one error per unknown section or key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	reported := make(map[string]bool)

	for _, key := range md.Undecoded() {
		if len(key) == 0 {
			continue
		}

		section := key[0]

		fields, ok := knownKeys[section]
		if !ok {
			if !reported[section] {
				reported[section] = true
				errs = append(errs, unknownKeyError(section, "", knownSections))
			}

			continue
		}

		if len(key) < 2 {
			continue
		}

		errs = append(errs, unknownKeyError(key[1], section, fields))
	}

	return errors.Join(errs...)
}

func unknownKeyError(name, section string, candidates []string) error {
	where := ""
	if section != "" {
		where = fmt.Sprintf(" in [%s]", section)
	}

	if suggestion := closestMatch(name, candidates); suggestion != "" {
		return fmt.Errorf("unknown config key %q%s: did you mean %q?", name, where, suggestion)
	}

	return fmt.Errorf("unknown config key %q%s", name, where)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings using two
// rolling rows.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

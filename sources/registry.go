package sources

import (
	"fmt"
	"sort"
	"strings"

	"ipomonitor/models"
)

// All returns every configured source ordered by rank, then name.
func All() []models.SourceConfig {
	out := make([]models.SourceConfig, len(catalog))
	copy(out, catalog)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ByName looks a source up case-insensitively.
func ByName(name string) (models.SourceConfig, bool) {
	for _, src := range catalog {
		if strings.EqualFold(src.Name, name) {
			return src, true
		}
	}
	return models.SourceConfig{}, false
}

// Names lists the configured source names in rank order.
func Names() []string {
	all := All()
	names := make([]string, 0, len(all))
	for _, src := range all {
		names = append(names, src.Name)
	}
	return names
}

// Validate checks the catalog for configuration mistakes that would
// otherwise only surface mid-run: duplicate names, missing URLs, rename
// targets outside the declared column set.
func Validate() error {
	seen := make(map[string]bool, len(catalog))
	for _, src := range catalog {
		key := strings.ToLower(src.Name)
		if seen[key] {
			return fmt.Errorf("sources: duplicate source name %q", src.Name)
		}
		seen[key] = true

		if src.Name == "" || src.URL == "" {
			return fmt.Errorf("sources: source %q missing name or url", src.Name)
		}
		if src.RawTable == "" && src.Kind != models.SourceKindAPI {
			return fmt.Errorf("sources: source %q has no raw table", src.Name)
		}
		if len(src.Columns) == 0 {
			return fmt.Errorf("sources: source %q declares no columns", src.Name)
		}

		declared := make(map[string]bool, len(src.Columns))
		for _, c := range src.Columns {
			declared[c] = true
		}
		for from := range src.Spec.Rename {
			if !declared[from] {
				return fmt.Errorf("sources: source %q renames undeclared column %q", src.Name, from)
			}
		}
	}
	return nil
}

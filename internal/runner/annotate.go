package runner

import (
	"fmt"
	"sort"
	"strings"

	"athena-runner/internal/settings"
)

// AnnotateQuery prefixes the statement with host-supplied metadata so
// engine-side query history stays attributable. Disabled via toggles; the
// DML-safe flavor uses a line comment because Athena rejects
// data-modification statements that open with a block comment.
func AnnotateQuery(toggles settings.Toggles, sql string, metadata map[string]any) string {
	if !toggles.AnnotateQuery || len(metadata) == 0 {
		return sql
	}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s: %v", k, metadata[k]))
	}
	annotation := strings.Join(pairs, ", ")

	if toggles.AnnotateQueryForDML {
		return fmt.Sprintf("-- %s\n%s", annotation, sql)
	}
	return fmt.Sprintf("/* %s */ %s", annotation, sql)
}

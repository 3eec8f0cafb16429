package tune

import (
	"strings"

	"github.com/pingcap/errors"
	"github.com/pingcap/tidb/pkg/parser"
)

// NormalizeQuery strips literals from a SQL statement and returns the
// normalized text together with its digest in hex. The digest matches the
// grouping key performance_schema uses for
// events_statements_summary_by_digest, so a statement captured from the slow
// log or the processlist can be joined back to its aggregate row.
func NormalizeQuery(sql string) (normalized string, digest string, err error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return "", "", errors.New("empty statement")
	}

	normalized, d := parser.NormalizeDigest(sql)
	if normalized == "" {
		return "", "", errors.Errorf("statement did not normalize: %q", sql)
	}
	return normalized, d.String(), nil
}

// TruncateDigestText shortens digest text for display, keeping whole runes
// and marking the cut.
func TruncateDigestText(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	if max <= 3 {
		return text[:max]
	}
	cut := max - 3
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

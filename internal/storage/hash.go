package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"merchant-cohort-lab/internal/domain"
)

// TableStats computes row count, max date and a content hash for an
// in-memory table. The hash is independent of row order.
func TableStats(t *domain.WideTable) domain.TableStats {
	stats := domain.TableStats{
		RowCount: len(t.Rows),
		Columns:  append([]string(nil), t.Columns...),
	}

	lines := make([]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		if r.Date.After(stats.MaxDate) {
			stats.MaxDate = r.Date
		}
		line := fmt.Sprintf("%s|%s|%s", r.Date.Format("2006-01-02"), r.Cohort.Format("2006-01-02"), r.Segment)
		for _, c := range t.Columns {
			v := r.Value(c)
			if math.IsNaN(v) {
				line += "|"
				continue
			}
			line += fmt.Sprintf("|%g", v)
		}
		lines = append(lines, line)
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, c := range t.Columns {
		h.Write([]byte(c))
		h.Write([]byte{','})
	}
	h.Write([]byte{'\n'})
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	stats.ContentHash = hex.EncodeToString(h.Sum(nil))[:16]
	return stats
}

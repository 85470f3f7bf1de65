package service

import (
	"sort"

	"github.com/mediaguard/reviewcenter/models"
)

// ResultAggregator merges candidate findings into the canonical result set
// for a file. Merging is deterministic: identical inputs always produce the
// identical ordered output.
type ResultAggregator struct {
	// Findings of the same type within this many seconds collapse into one.
	TimeTolerance float64
}

func NewResultAggregator() *ResultAggregator {
	return &ResultAggregator{TimeTolerance: 2.0}
}

// Merge groups findings by (violation type, position cluster), keeps the
// highest-confidence finding of each cluster and returns them ordered by
// position ascending then confidence descending.
func (a *ResultAggregator) Merge(in []Finding) []Finding {
	if len(in) == 0 {
		return nil
	}

	// Canonical input order first so clustering is independent of arrival
	// order: by type, then position, then confidence descending.
	sorted := make([]Finding, len(in))
	copy(sorted, in)
	sort.SliceStable(sorted, func(i, j int) bool {
		x, y := sorted[i], sorted[j]
		if x.ViolationType != y.ViolationType {
			return x.ViolationType < y.ViolationType
		}
		if x.Position.Ordinal() != y.Position.Ordinal() {
			return x.Position.Ordinal() < y.Position.Ordinal()
		}
		if x.Confidence != y.Confidence {
			return x.Confidence > y.Confidence
		}
		return x.Evidence < y.Evidence
	})

	var merged []Finding
	for _, f := range sorted {
		idx := -1
		for i := range merged {
			if merged[i].ViolationType == f.ViolationType && a.sameCluster(merged[i].Position, f.Position) {
				idx = i
				break
			}
		}
		if idx < 0 {
			merged = append(merged, f)
			continue
		}
		if f.Confidence > merged[idx].Confidence {
			merged[idx] = f
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		x, y := merged[i], merged[j]
		if x.Position.Ordinal() != y.Position.Ordinal() {
			return x.Position.Ordinal() < y.Position.Ordinal()
		}
		if x.Confidence != y.Confidence {
			return x.Confidence > y.Confidence
		}
		return x.ViolationType < y.ViolationType
	})
	return merged
}

// sameCluster reports whether two positions of same-typed findings refer to
// the same spot: same page with overlapping (or absent) boxes, or timestamps
// within the tolerance window.
func (a *ResultAggregator) sameCluster(p, q models.Position) bool {
	if p.Kind != q.Kind {
		return false
	}
	if p.Kind == models.PositionTimestamp {
		d := p.Seconds - q.Seconds
		if d < 0 {
			d = -d
		}
		return d <= a.TimeTolerance
	}
	if p.Page != q.Page {
		return false
	}
	if len(p.BBox) != 4 || len(q.BBox) != 4 {
		// No box on at least one side: same page is enough.
		return true
	}
	return boxesOverlap(p.BBox, q.BBox)
}

func boxesOverlap(a, b []float64) bool {
	return a[0] < b[2] && b[0] < a[2] && a[1] < b[3] && b[1] < a[3]
}

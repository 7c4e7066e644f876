// Package digest selects the sales featured in a recipient's weekly email.
// Selection is pure and deterministic: the same recipient, week, and
// candidate set always yield the same sales in the same order, so a retried
// digest job never produces a different email.
package digest

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"yardhop/pkg/domain"
)

// MaxItems is the fixed size of a digest.
const MaxItems = 12

// windowDays is how far ahead of now a sale may start and still be featured.
const windowDays = 7

// WeekKey returns the ISO-8601 week label for t, e.g. "2026-W35". It seeds
// the promoted shuffle and deduplicates digest jobs.
func WeekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// Select picks up to MaxItems sales for one recipient's weekly digest.
//
// Candidates are filtered to published, visible sales not owned by the
// recipient whose schedule overlaps the coming week. Promoted sales fill
// the digest first; remaining slots go to organic sales ranked by view
// count. Only when promoted sales alone overflow the digest are they
// shuffled, seeded by recipient and week, so rotation is fair across
// recipients but stable for any one of them.
func Select(recipientID, weekKey string, now time.Time, candidates []domain.Sale) []domain.Sale {
	windowEnd := now.Add(windowDays * 24 * time.Hour)

	var promoted, organic []domain.Sale
	for _, s := range candidates {
		if s.OwnerID == recipientID || !s.Listed() {
			continue
		}
		if s.EndsAt.Before(now) || s.StartsAt.After(windowEnd) {
			continue
		}
		if s.Promoted(now) {
			promoted = append(promoted, s)
		} else {
			organic = append(organic, s)
		}
	}

	if len(promoted) > MaxItems {
		shuffle(promoted, seed(recipientID, weekKey))
		return append([]domain.Sale(nil), promoted[:MaxItems]...)
	}

	byEngagement(promoted)
	byEngagement(organic)

	out := make([]domain.Sale, 0, MaxItems)
	out = append(out, promoted...)
	for _, s := range organic {
		if len(out) == MaxItems {
			break
		}
		out = append(out, s)
	}
	return out
}

// byEngagement orders sales by view count, newest first on ties, with the
// ID as a final tiebreak so the order never depends on input order.
func byEngagement(sales []domain.Sale) {
	sort.Slice(sales, func(i, j int) bool {
		a, b := sales[i], sales[j]
		if a.ViewCount != b.ViewCount {
			return a.ViewCount > b.ViewCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func seed(recipientID, weekKey string) int64 {
	h := fnv.New64a()
	h.Write([]byte(recipientID))
	h.Write([]byte{'|'})
	h.Write([]byte(weekKey))
	return int64(h.Sum64())
}

func shuffle(sales []domain.Sale, seed int64) {
	// Shuffling from a sorted base keeps the result independent of the
	// candidates' arrival order.
	sort.Slice(sales, func(i, j int) bool { return sales[i].ID < sales[j].ID })
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(sales), func(i, j int) {
		sales[i], sales[j] = sales[j], sales[i]
	})
}

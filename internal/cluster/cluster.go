// Package cluster implements the gap-based meeting clustering kernel.
// It is a pure function over timestamped photo records: a single pass after
// an O(n log n) sort, so already-closed clusters are never revisited.
package cluster

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultGap is the maximum time between consecutive photos in one meeting.
const DefaultGap = 18 * time.Hour

// Record is one photo as the kernel sees it: an id and an optional shot time.
type Record struct {
	ID     uuid.UUID
	ShotAt *time.Time
}

// Group is one emitted meeting cluster. Records are in ascending shot order;
// Date is the calendar date of the first record.
type Group struct {
	Date    time.Time
	Records []Record
}

// Start returns the earliest shot time in the group.
func (g *Group) Start() time.Time {
	return *g.Records[0].ShotAt
}

// End returns the latest shot time in the group.
func (g *Group) End() time.Time {
	return *g.Records[len(g.Records)-1].ShotAt
}

// Result holds the partition produced by Cluster.
type Result struct {
	// Groups are the emitted clusters in chronological order.
	Groups []Group

	// Undated are the records without timestamps; they pass through
	// unclustered and stay in the Default meeting.
	Undated []Record
}

// Cluster partitions records into groups separated by more than gap.
// Records exactly gap apart stay together. The input is not mutated and
// the result is independent of input order.
func Cluster(records []Record, gap time.Duration) Result {
	if gap <= 0 {
		gap = DefaultGap
	}

	var dated, undated []Record
	for _, r := range records {
		if r.ShotAt != nil {
			dated = append(dated, r)
		} else {
			undated = append(undated, r)
		}
	}

	res := Result{Undated: undated}
	if len(dated) == 0 {
		return res
	}

	// Sort ascending by shot time, ties broken by id so the partition is
	// deterministic under any input permutation.
	sort.SliceStable(dated, func(i, j int) bool {
		a, b := *dated[i].ShotAt, *dated[j].ShotAt
		if a.Equal(b) {
			return dated[i].ID.String() < dated[j].ID.String()
		}
		return a.Before(b)
	})

	current := []Record{dated[0]}
	for i := 1; i < len(dated); i++ {
		prev, next := dated[i-1], dated[i]
		if next.ShotAt.Sub(*prev.ShotAt) <= gap {
			current = append(current, next)
		} else {
			res.Groups = append(res.Groups, newGroup(current))
			current = []Record{next}
		}
	}
	res.Groups = append(res.Groups, newGroup(current))

	return res
}

func newGroup(records []Record) Group {
	first := *records[0].ShotAt
	return Group{
		Date:    time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, first.Location()),
		Records: records,
	}
}

package cluster

import (
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

func ts(t *testing.T, value string) *time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02T15:04:05", value)
	if err != nil {
		t.Fatalf("bad test timestamp %q: %v", value, err)
	}
	return &parsed
}

func record(t *testing.T, value string) Record {
	t.Helper()
	r := Record{ID: uuid.New()}
	if value != "" {
		r.ShotAt = ts(t, value)
	}
	return r
}

func TestClusterEmptyInput(t *testing.T) {
	res := Cluster(nil, DefaultGap)
	if len(res.Groups) != 0 || len(res.Undated) != 0 {
		t.Errorf("empty input should yield empty result, got %+v", res)
	}
}

func TestClusterAllUndated(t *testing.T) {
	records := []Record{record(t, ""), record(t, "")}
	res := Cluster(records, DefaultGap)

	if len(res.Groups) != 0 {
		t.Errorf("expected no groups, got %d", len(res.Groups))
	}
	if len(res.Undated) != 2 {
		t.Errorf("expected 2 undated records, got %d", len(res.Undated))
	}
}

func TestClusterSingleMeeting(t *testing.T) {
	records := []Record{
		record(t, "2025-06-10T09:00:00"),
		record(t, "2025-06-10T10:00:00"),
		record(t, "2025-06-10T15:00:00"),
	}

	res := Cluster(records, 18*time.Hour)

	if len(res.Groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(res.Groups))
	}
	g := res.Groups[0]
	if len(g.Records) != 3 {
		t.Errorf("group size = %d, want 3", len(g.Records))
	}
	if !g.Start().Equal(*ts(t, "2025-06-10T09:00:00")) {
		t.Errorf("Start = %v, want 09:00", g.Start())
	}
	if !g.End().Equal(*ts(t, "2025-06-10T15:00:00")) {
		t.Errorf("End = %v, want 15:00", g.End())
	}
	wantDate := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	if !g.Date.Equal(wantDate) {
		t.Errorf("Date = %v, want %v", g.Date, wantDate)
	}
}

func TestClusterGapSplit(t *testing.T) {
	// The 10:00 -> next-day 06:00 gap is 20h > 18h, so the input splits.
	records := []Record{
		record(t, "2025-06-10T09:00:00"),
		record(t, "2025-06-10T10:00:00"),
		record(t, "2025-06-11T06:00:00"),
		record(t, "2025-06-11T07:00:00"),
	}

	res := Cluster(records, 18*time.Hour)

	if len(res.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(res.Groups))
	}
	if len(res.Groups[0].Records) != 2 || len(res.Groups[1].Records) != 2 {
		t.Errorf("group sizes = %d, %d, want 2, 2",
			len(res.Groups[0].Records), len(res.Groups[1].Records))
	}
	if res.Groups[0].Date.Day() != 10 || res.Groups[1].Date.Day() != 11 {
		t.Errorf("dates = %v, %v, want June 10 and 11", res.Groups[0].Date, res.Groups[1].Date)
	}
}

func TestClusterBoundaryExactGap(t *testing.T) {
	gap := 18 * time.Hour

	// Exactly GAP apart: same meeting.
	together := []Record{
		record(t, "2025-06-10T06:00:00"),
		record(t, "2025-06-11T00:00:00"),
	}
	if got := len(Cluster(together, gap).Groups); got != 1 {
		t.Errorf("records exactly gap apart: %d groups, want 1", got)
	}

	// One second over: different meetings.
	apart := []Record{
		record(t, "2025-06-10T06:00:00"),
		record(t, "2025-06-11T00:00:01"),
	}
	if got := len(Cluster(apart, gap).Groups); got != 2 {
		t.Errorf("records gap+1s apart: %d groups, want 2", got)
	}
}

func TestClusterCustomGap(t *testing.T) {
	records := []Record{
		record(t, "2025-06-10T09:00:00"),
		record(t, "2025-06-10T10:00:00"),
		record(t, "2025-06-10T12:00:00"),
	}

	if got := len(Cluster(records, time.Hour).Groups); got != 2 {
		t.Errorf("gap=1h: %d groups, want 2", got)
	}
	if got := len(Cluster(records, 3*time.Hour).Groups); got != 1 {
		t.Errorf("gap=3h: %d groups, want 1", got)
	}
}

func TestClusterMixedDatedUndated(t *testing.T) {
	records := []Record{
		record(t, "2025-06-10T09:00:00"),
		record(t, ""),
		record(t, "2025-06-10T10:00:00"),
	}

	res := Cluster(records, DefaultGap)

	if len(res.Groups) != 1 || len(res.Groups[0].Records) != 2 {
		t.Errorf("expected one group of 2, got %+v", res.Groups)
	}
	if len(res.Undated) != 1 {
		t.Errorf("expected 1 undated, got %d", len(res.Undated))
	}
}

func TestClusterStableUnderPermutation(t *testing.T) {
	records := []Record{
		record(t, "2025-06-10T09:00:00"),
		record(t, "2025-06-10T10:00:00"),
		record(t, "2025-06-11T06:00:00"),
		record(t, "2025-06-11T07:00:00"),
		record(t, "2025-06-13T12:00:00"),
		record(t, ""),
	}

	want := Cluster(records, 18*time.Hour)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]Record, len(records))
		copy(shuffled, records)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		got := Cluster(shuffled, 18*time.Hour)
		if len(got.Groups) != len(want.Groups) {
			t.Fatalf("permutation %d: %d groups, want %d", i, len(got.Groups), len(want.Groups))
		}
		for gi := range got.Groups {
			if !reflect.DeepEqual(idsOf(got.Groups[gi]), idsOf(want.Groups[gi])) {
				t.Fatalf("permutation %d: group %d membership differs", i, gi)
			}
		}
	}
}

func TestClusterDeterministic(t *testing.T) {
	records := []Record{
		record(t, "2025-06-10T09:00:00"),
		record(t, "2025-06-10T09:00:00"), // identical timestamps
		record(t, "2025-06-12T09:00:00"),
	}

	first := Cluster(records, DefaultGap)
	for i := 0; i < 5; i++ {
		again := Cluster(records, DefaultGap)
		if !reflect.DeepEqual(first, again) {
			t.Fatal("repeated runs over the same input diverged")
		}
	}
}

func TestClusterDoesNotMutateInput(t *testing.T) {
	records := []Record{
		record(t, "2025-06-12T09:00:00"),
		record(t, "2025-06-10T09:00:00"),
	}
	before := make([]Record, len(records))
	copy(before, records)

	Cluster(records, DefaultGap)

	if !reflect.DeepEqual(records, before) {
		t.Error("Cluster reordered the caller's slice")
	}
}

func idsOf(g Group) []uuid.UUID {
	ids := make([]uuid.UUID, len(g.Records))
	for i, r := range g.Records {
		ids[i] = r.ID
	}
	return ids
}

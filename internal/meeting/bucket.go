package meeting

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/YangSeungWon/photo-timeline/internal/cluster"
)

// PhotoRecord is one photo as reconciliation sees it: identity, shot time
// and optional coordinates for the meeting track.
type PhotoRecord struct {
	ID     uuid.UUID
	ShotAt time.Time
	Lat    *float64
	Lon    *float64
}

// Bucket is the unit of the assign phase: all photos landing on one
// meeting date, in ascending shot order.
type Bucket struct {
	Date    time.Time
	Records []PhotoRecord
}

// Start returns the earliest shot time in the bucket.
func (b *Bucket) Start() time.Time { return b.Records[0].ShotAt }

// End returns the latest shot time in the bucket.
func (b *Bucket) End() time.Time { return b.Records[len(b.Records)-1].ShotAt }

// BucketByDate folds clustering output into per-date buckets. Two clusters
// can share a calendar date (a morning and an evening session split by the
// gap); they land on the same meeting row, so they merge here. Buckets come
// back in chronological date order with records sorted by shot time.
func BucketByDate(res cluster.Result, byID map[uuid.UUID]PhotoRecord) []Bucket {
	byDate := make(map[time.Time][]PhotoRecord)
	for _, g := range res.Groups {
		for _, rec := range g.Records {
			pr, ok := byID[rec.ID]
			if !ok {
				pr = PhotoRecord{ID: rec.ID, ShotAt: *rec.ShotAt}
			}
			byDate[g.Date] = append(byDate[g.Date], pr)
		}
	}

	buckets := make([]Bucket, 0, len(byDate))
	for date, records := range byDate {
		sort.Slice(records, func(i, j int) bool {
			if records[i].ShotAt.Equal(records[j].ShotAt) {
				return records[i].ID.String() < records[j].ID.String()
			}
			return records[i].ShotAt.Before(records[j].ShotAt)
		})
		buckets = append(buckets, Bucket{Date: date, Records: records})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Date.Before(buckets[j].Date)
	})
	return buckets
}

// BuildTrack serializes the bucket's GPS points as a JSON [lat, lon] list
// in shot order. Photos without coordinates are skipped; an empty track
// returns nil so the column stays NULL.
func BuildTrack(records []PhotoRecord) ([]byte, error) {
	var points [][2]float64
	for _, r := range records {
		if r.Lat != nil && r.Lon != nil {
			points = append(points, [2]float64{*r.Lat, *r.Lon})
		}
	}
	if len(points) == 0 {
		return nil, nil
	}
	return json.Marshal(points)
}

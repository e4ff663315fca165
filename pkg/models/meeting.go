package models

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// MeetingKind classifies a meeting by how it is managed.
type MeetingKind string

const (
	// MeetingKindDefault is the per-group sentinel holding unclustered
	// and timestamp-less photos. Exactly one per group, never deleted.
	MeetingKindDefault MeetingKind = "default"

	// MeetingKindAuto is created and owned by reconciliation.
	MeetingKindAuto MeetingKind = "auto"

	// MeetingKindManual is user-created; the pipeline never modifies it.
	MeetingKindManual MeetingKind = "manual"
)

// DefaultMeetingTitle is the legacy sentinel title. Kept so rows written
// before the kind column existed still classify correctly.
const DefaultMeetingTitle = "Default Meeting"

var autoTitlePattern = regexp.MustCompile(`^Meeting \d{4}-\d{2}-\d{2}$`)

// AutoMeetingTitle returns the title for an auto meeting on a given date.
func AutoMeetingTitle(date time.Time) string {
	return "Meeting " + date.Format("2006-01-02")
}

// KindFromTitle classifies a meeting by its title, the legacy scheme used
// before the kind column. Used for migration and as a fallback.
func KindFromTitle(title string) MeetingKind {
	switch {
	case title == DefaultMeetingTitle:
		return MeetingKindDefault
	case autoTitlePattern.MatchString(title):
		return MeetingKindAuto
	default:
		return MeetingKindManual
	}
}

// Meeting is a time-bounded bucket of photos within one group.
// Maps to the 'meetings' table.
type Meeting struct {
	ID      uuid.UUID `json:"id"`
	GroupID uuid.UUID `json:"group_id"`

	Title       string      `json:"title"`
	Kind        MeetingKind `json:"kind"`
	Description *string     `json:"description,omitempty"`

	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	MeetingDate time.Time `json:"meeting_date"`

	// TrackGPS is a JSON list of [lat, lon] pairs built from the
	// meeting's photos, in shot order.
	TrackGPS []byte `json:"track_gps,omitempty"`

	PhotoCount   int        `json:"photo_count"`
	CoverPhotoID *uuid.UUID `json:"cover_photo_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// IsDefault reports whether this is the group's sentinel meeting.
func (m *Meeting) IsDefault() bool { return m.Kind == MeetingKindDefault }

// IsAuto reports whether reconciliation owns this meeting.
func (m *Meeting) IsAuto() bool { return m.Kind == MeetingKindAuto }

// Coordination keys for the per-group debounce state in the KV store.

// ClusterPendingKey marks "a burst is in progress" while it lives.
func ClusterPendingKey(groupID uuid.UUID) string {
	return fmt.Sprintf("cluster:pending:%s", groupID)
}

// ClusterJobKey marks "a reconcile job is already scheduled".
func ClusterJobKey(groupID uuid.UUID) string {
	return fmt.Sprintf("cluster:job:%s", groupID)
}

// ClusterCountKey holds the informational burst size.
func ClusterCountKey(groupID uuid.UUID) string {
	return fmt.Sprintf("cluster:count:%s", groupID)
}

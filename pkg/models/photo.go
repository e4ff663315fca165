// Package models defines data structures shared across the pipeline.
// These models map directly to database tables.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Photo represents an uploaded photo or video in a group archive.
// Maps to the 'photos' table.
type Photo struct {
	ID         uuid.UUID `json:"id"`
	GroupID    uuid.UUID `json:"group_id"`
	UploaderID uuid.UUID `json:"uploader_id"`

	// MeetingID always references a meeting of the same group.
	MeetingID *uuid.UUID `json:"meeting_id,omitempty"`

	// File identity (immutable once set)
	FilenameOrig  string  `json:"filename_orig"`
	FilenameThumb *string `json:"filename_thumb,omitempty"`
	FileSize      int64   `json:"file_size"`
	FileHash      string  `json:"file_hash"`
	MimeType      string  `json:"mime_type"`

	// Derived metadata
	ShotAt      *time.Time `json:"shot_at,omitempty"`
	GPSLat      *float64   `json:"gps_lat,omitempty"`
	GPSLon      *float64   `json:"gps_lon,omitempty"`
	GPSAltitude *float64   `json:"gps_altitude,omitempty"`
	ExifData    []byte     `json:"exif_data,omitempty"` // opaque JSON map
	Blurhash    *string    `json:"blurhash,omitempty"`

	Caption *string `json:"caption,omitempty"`

	// Processing status
	IsProcessed     bool    `json:"is_processed"`
	ProcessingError *string `json:"processing_error,omitempty"`

	UploadedAt time.Time  `json:"uploaded_at"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// HasTimestamp reports whether the photo carries an extracted shot time.
// Photos without one stay in the group's Default meeting.
func (p *Photo) HasTimestamp() bool {
	return p.ShotAt != nil
}

// HasGPS reports whether both coordinates were extracted.
func (p *Photo) HasGPS() bool {
	return p.GPSLat != nil && p.GPSLon != nil
}

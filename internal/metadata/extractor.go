// Package metadata extracts shot timestamps and GPS coordinates from
// uploaded media. JPEG/TIFF/PNG tags are parsed in-process with goexif;
// HEIC and video formats go through the external probe. Parse failures
// never fail the surrounding job: missing fields come back nil.
package metadata

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/mknote"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/YangSeungWon/photo-timeline/pkg/fileutil"
	"github.com/YangSeungWon/photo-timeline/pkg/logger"
)

func init() {
	// Register maker note parsers for better camera support
	exif.RegisterParsers(mknote.All...)
}

// exifTimeLayouts covers the formats seen in the wild: the canonical EXIF
// form plus the timezone-suffixed variants exiftool reports for videos.
var exifTimeLayouts = []string{
	"2006:01:02 15:04:05",
	"2006:01:02 15:04:05-07:00",
	"2006:01:02 15:04:05Z",
	time.RFC3339,
}

// probeDateFields is the acceptance order for probe output.
var probeDateFields = []string{"DateTimeOriginal", "CreateDate", "MediaCreateDate"}

// Meta holds everything the pipeline extracts from one file.
type Meta struct {
	// ShotAt is the capture timestamp, nil when absent or unparseable.
	ShotAt *time.Time

	// Lat/Lon in signed decimal degrees, nil when absent.
	Lat *float64
	Lon *float64

	Altitude *float64

	// Raw is the opaque field map persisted as JSON. All values are
	// JSON-serializable: times as RFC3339 strings, the rest stringified.
	Raw map[string]interface{}
}

// HasGPS reports whether both coordinates were extracted.
func (m *Meta) HasGPS() bool {
	return m != nil && m.Lat != nil && m.Lon != nil
}

// Extractor extracts metadata from media files.
type Extractor struct {
	probe  Probe
	logger *logger.Logger
}

// NewExtractor creates an extractor using the given probe for HEIC/video.
func NewExtractor(probe Probe, log *logger.Logger) *Extractor {
	return &Extractor{
		probe:  probe,
		logger: log.WithField("component", "metadata-extractor"),
	}
}

// Extract reads metadata from the file at path. The only error it returns
// is non-recoverable I/O (file absent or unreadable); everything else is
// logged and reflected as nil fields so the pipeline still advances.
func (e *Extractor) Extract(ctx context.Context, path string) (*Meta, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("file not accessible: %w", err)
	}

	meta := &Meta{Raw: map[string]interface{}{}}

	switch fileutil.GetFileType(path) {
	case fileutil.FileTypeImage:
		e.extractImage(path, meta)
	case fileutil.FileTypeHEIC, fileutil.FileTypeVideo:
		e.extractProbed(ctx, path, meta)
	default:
		e.logger.WithField("path", path).Debug("unsupported file type for metadata extraction")
	}

	if meta.ShotAt != nil {
		meta.Raw["DateTimeOriginal"] = meta.ShotAt.Format(time.RFC3339)
	}

	return meta, nil
}

// extractImage parses embedded EXIF tags with goexif.
func (e *Extractor) extractImage(path string, meta *Meta) {
	file, err := os.Open(path)
	if err != nil {
		e.logger.WithError(err).WithField("path", path).Warn("failed to open file for EXIF")
		return
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		// No EXIF data is common and not an error.
		e.logger.WithError(err).WithField("path", path).Debug("failed to decode EXIF")
		return
	}

	// Timestamp, preferring DateTimeOriginal over DateTime.
	for _, field := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTime} {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		val, err := tag.StringVal()
		if err != nil {
			continue
		}
		if ts, ok := ParseExifTime(val); ok {
			meta.ShotAt = &ts
			break
		}
	}

	// GPS: goexif converts degrees/minutes/seconds + hemisphere reference
	// to signed decimal degrees.
	if lat, lon, err := x.LatLong(); err == nil {
		meta.Lat = &lat
		meta.Lon = &lon
	}

	if tag, err := x.Get(exif.GPSAltitude); err == nil {
		if num, denom, err := tag.Rat2(0); err == nil && denom != 0 {
			alt := float64(num) / float64(denom)
			meta.Altitude = &alt
		}
	}

	x.Walk(rawCollector{raw: meta.Raw})
}

// extractProbed delegates to the external probe for HEIC and video files.
func (e *Extractor) extractProbed(ctx context.Context, path string, meta *Meta) {
	fields, err := e.probe.Probe(ctx, path)
	if err != nil {
		e.logger.WithError(err).WithField("path", path).Warn("metadata probe failed")
		return
	}

	for k, v := range fields {
		meta.Raw[k] = stringify(v)
	}

	for _, field := range probeDateFields {
		raw, ok := fields[field]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		if ts, parsed := ParseExifTime(s); parsed {
			meta.ShotAt = &ts
			break
		}
	}

	if lat, ok := numericField(fields, "GPSLatitude"); ok {
		if lon, ok := numericField(fields, "GPSLongitude"); ok {
			meta.Lat = &lat
			meta.Lon = &lon
		}
	}
	if alt, ok := numericField(fields, "GPSAltitude"); ok {
		meta.Altitude = &alt
	}
}

// ParseExifTime parses a timestamp in any of the accepted EXIF layouts.
func ParseExifTime(value string) (time.Time, bool) {
	for _, layout := range exifTimeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// numericField reads a float64 from probe output, which with -n reports
// GPS values as JSON numbers.
func numericField(fields map[string]interface{}, name string) (float64, bool) {
	v, ok := fields[name]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// stringify forces a probed value into a JSON-serializable scalar.
func stringify(v interface{}) interface{} {
	switch val := v.(type) {
	case string, float64, bool, nil:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// rawCollector walks the decoded EXIF and flattens every tag into the raw
// map as a string.
type rawCollector struct {
	raw map[string]interface{}
}

func (c rawCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	c.raw[string(name)] = tag.String()
	return nil
}

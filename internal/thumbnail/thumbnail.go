// Package thumbnail generates bounded-dimension JPEG previews using libvips
// for images and ffmpeg for videos. Thumbnail failures are non-fatal to the
// surrounding job: the caller logs the error and moves on.
package thumbnail

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/YangSeungWon/photo-timeline/pkg/fileutil"
	"github.com/YangSeungWon/photo-timeline/pkg/logger"
)

// Builder generates thumbnails next to the original file.
type Builder struct {
	config Config
	logger *logger.Logger
}

// Config holds thumbnail generation settings.
type Config struct {
	// Target bounding box in pixels. Originals smaller than the box are
	// never upscaled.
	MaxWidth  int
	MaxHeight int

	// JPEG quality (1-100)
	Quality int
}

// DefaultConfig returns the standard 512x512 box at quality 85.
func DefaultConfig() Config {
	return Config{MaxWidth: 512, MaxHeight: 512, Quality: 85}
}

// Result holds the outputs of one thumbnail build.
type Result struct {
	// Path of the generated JPEG, adjacent to the original.
	Path string

	// Thumbnail dimensions after fitting.
	Width  int
	Height int

	// Blurhash placeholder encoded from the finished thumbnail.
	// Empty when encoding failed; the thumbnail itself is still valid.
	Blurhash string
}

// NewBuilder creates a thumbnail builder.
func NewBuilder(cfg Config, log *logger.Logger) *Builder {
	if cfg.MaxWidth <= 0 || cfg.MaxHeight <= 0 {
		cfg.MaxWidth, cfg.MaxHeight = 512, 512
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 85
	}
	return &Builder{
		config: cfg,
		logger: log.WithField("component", "thumbnail-builder"),
	}
}

// Initialize starts the vips library. Must be called once before any
// image builds.
func Initialize() {
	vips.LoggingSettings(nil, vips.LogLevelWarning)
	vips.Startup(nil)
}

// Shutdown stops the vips library on application exit.
func Shutdown() {
	vips.Shutdown()
}

// Build generates a thumbnail for the file at path, dispatching on file
// type. HEIC loads through vips like any other image; videos go through
// ffmpeg frame extraction first.
func (b *Builder) Build(ctx context.Context, path string) (*Result, error) {
	switch fileutil.GetFileType(path) {
	case fileutil.FileTypeImage, fileutil.FileTypeHEIC:
		return b.buildImage(path)
	case fileutil.FileTypeVideo:
		return b.buildVideo(ctx, path)
	default:
		return nil, fmt.Errorf("unsupported file type for thumbnail: %s", filepath.Ext(path))
	}
}

// buildImage loads the image with vips, honors the orientation tag,
// flattens transparency onto white and exports a fitted JPEG.
func (b *Builder) buildImage(path string) (*Result, error) {
	img, err := vips.NewImageFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	defer img.Close()

	if err := img.AutoRotate(); err != nil {
		b.logger.WithError(err).WithField("path", path).Warn("failed to auto-rotate image")
	}

	if img.HasAlpha() {
		if err := img.Flatten(&vips.Color{R: 255, G: 255, B: 255}); err != nil {
			return nil, fmt.Errorf("failed to flatten alpha: %w", err)
		}
	}

	scale := FitScale(img.Width(), img.Height(), b.config.MaxWidth, b.config.MaxHeight)
	if scale < 1 {
		if err := img.Resize(scale, vips.KernelLanczos3); err != nil {
			return nil, fmt.Errorf("failed to resize: %w", err)
		}
	}

	params := vips.NewJpegExportParams()
	params.Quality = b.config.Quality
	params.StripMetadata = true

	jpegBytes, _, err := img.ExportJpeg(params)
	if err != nil {
		return nil, fmt.Errorf("failed to export JPEG: %w", err)
	}

	outPath, err := OutputPath(path)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(outPath, jpegBytes); err != nil {
		return nil, fmt.Errorf("failed to write thumbnail: %w", err)
	}

	res := &Result{
		Path:   outPath,
		Width:  img.Width(),
		Height: img.Height(),
	}
	b.attachBlurhash(res)

	b.logger.WithFields(map[string]interface{}{
		"path": outPath,
		"size": fmt.Sprintf("%dx%d", res.Width, res.Height),
	}).Debug("image thumbnail generated")

	return res, nil
}

// attachBlurhash encodes a placeholder from the finished thumbnail.
// Failure only logs; the thumbnail result stands on its own.
func (b *Builder) attachBlurhash(res *Result) {
	hash, err := EncodeBlurhash(res.Path)
	if err != nil {
		b.logger.WithError(err).WithField("path", res.Path).Warn("failed to encode blurhash")
		return
	}
	res.Blurhash = hash
}

// FitScale returns the downscale factor that fits w x h inside the box,
// preserving aspect ratio. Returns 1 when the image already fits.
func FitScale(w, h, maxW, maxH int) float64 {
	if w <= 0 || h <= 0 {
		return 1
	}
	scale := 1.0
	if sw := float64(maxW) / float64(w); sw < scale {
		scale = sw
	}
	if sh := float64(maxH) / float64(h); sh < scale {
		scale = sh
	}
	return scale
}

// OutputPath returns a fresh thumbnail path adjacent to the original:
// thumb_<hex8>.jpg in the same directory.
func OutputPath(original string) (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to generate thumbnail name: %w", err)
	}
	name := fmt.Sprintf("thumb_%s.jpg", hex.EncodeToString(buf[:]))
	return filepath.Join(filepath.Dir(original), name), nil
}

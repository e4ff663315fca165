package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// FrameTimeout bounds a single ffmpeg invocation.
const FrameTimeout = 30 * time.Second

// frameSeekSec is where the representative frame is taken from. The first
// frame of phone videos is often black; one second in is usually not.
const frameSeekSec = 1

// buildVideo extracts a single frame with ffmpeg, scaled to fit the target
// box, and encodes it as the JPEG thumbnail.
func (b *Builder) buildVideo(ctx context.Context, path string) (*Result, error) {
	outPath, err := OutputPath(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, FrameTimeout)
	defer cancel()

	scaleFilter := fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease",
		b.config.MaxWidth, b.config.MaxHeight)

	tempPath := outPath + ".tmp"
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-ss", strconv.Itoa(frameSeekSec),
		"-i", path,
		"-vframes", "1",
		"-vf", scaleFilter,
		"-q:v", strconv.Itoa(jpegQScale(b.config.Quality)),
		"-f", "image2",
		tempPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("ffmpeg failed: %v, stderr: %s", err, stderr.String())
	}

	if err := os.Rename(tempPath, outPath); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}

	res := &Result{Path: outPath}
	if w, h, err := decodeDimensions(outPath); err == nil {
		res.Width, res.Height = w, h
	} else {
		b.logger.WithError(err).WithField("path", outPath).Warn("failed to read frame dimensions")
	}
	b.attachBlurhash(res)

	b.logger.WithField("path", outPath).Debug("video thumbnail generated")
	return res, nil
}

// jpegQScale maps a 1-100 quality to ffmpeg's 2-31 qscale, where lower
// is better.
func jpegQScale(quality int) int {
	q := 31 - quality*29/100
	if q < 2 {
		q = 2
	}
	if q > 31 {
		q = 31
	}
	return q
}

// IsFFmpegAvailable checks if ffmpeg is present in PATH.
func IsFFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

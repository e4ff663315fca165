package thumbnail

import (
	"fmt"
	"image"
	_ "image/jpeg"
	"os"
	"path/filepath"

	"github.com/bbrks/go-blurhash"

	"github.com/YangSeungWon/photo-timeline/pkg/fileutil"
)

// Blurhash component counts. 4x3 is the common tradeoff between detail
// and string length.
const (
	BlurhashXComponents = 4
	BlurhashYComponents = 3
)

// EncodeBlurhash generates a blurhash string from a JPEG file, typically
// the finished thumbnail.
func EncodeBlurhash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	hash, err := blurhash.Encode(BlurhashXComponents, BlurhashYComponents, img)
	if err != nil {
		return "", fmt.Errorf("failed to encode blurhash: %w", err)
	}

	return hash, nil
}

// decodeDimensions reads the pixel dimensions of an encoded image without
// decoding the full frame.
func decodeDimensions(path string) (int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// writeAtomic writes data via a temp file and rename so readers never see
// a half-written thumbnail.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fileutil.EnsureDir(dir); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "thumb-*")
	if err != nil {
		return err
	}
	tempPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tempPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}

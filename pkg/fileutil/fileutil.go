// Package fileutil provides file operation utilities used across the pipeline.
// It includes media type detection, hashing, and safe file operations.
package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extensions whose embedded metadata can be parsed in-process.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tiff": true,
	".tif":  true,
}

// Extensions that require the external metadata probe (exiftool).
var HEICExtensions = map[string]bool{
	".heic": true,
	".heif": true,
}

// Supported video extensions.
var VideoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".avi": true,
	".mkv": true,
}

// FileType represents the type of media file.
type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeImage
	FileTypeHEIC
	FileTypeVideo
)

// GetFileType determines the file type based on extension.
func GetFileType(filename string) FileType {
	ext := strings.ToLower(filepath.Ext(filename))

	switch {
	case ImageExtensions[ext]:
		return FileTypeImage
	case HEICExtensions[ext]:
		return FileTypeHEIC
	case VideoExtensions[ext]:
		return FileTypeVideo
	default:
		return FileTypeUnknown
	}
}

// IsVideoFile checks if a file is a supported video.
func IsVideoFile(filename string) bool {
	return GetFileType(filename) == FileTypeVideo
}

// MimeType returns the MIME type for a supported media file, or
// application/octet-stream for anything unrecognized.
func MimeType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".tiff", ".tif":
		return "image/tiff"
	case ".heic", ".heif":
		return "image/heic"
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	case ".mkv":
		return "video/x-matroska"
	default:
		return "application/octet-stream"
	}
}

// HashFile calculates the SHA-256 hash of a file and returns it hex-encoded.
// The hash is stored on the photo row for deduplication.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// EnsureDir creates a directory and all parent directories if they don't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// FileExists checks if a file exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// GetFileSize returns the size of a file in bytes.
func GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

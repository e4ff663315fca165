package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestGetFileType(t *testing.T) {
	tests := []struct {
		filename string
		expected FileType
	}{
		{"photo.jpg", FileTypeImage},
		{"photo.JPEG", FileTypeImage},
		{"image.png", FileTypeImage},
		{"image.tiff", FileTypeImage},
		{"image.tif", FileTypeImage},

		{"photo.heic", FileTypeHEIC},
		{"photo.HEIC", FileTypeHEIC},
		{"photo.heif", FileTypeHEIC},

		{"video.mp4", FileTypeVideo},
		{"video.MOV", FileTypeVideo},
		{"video.avi", FileTypeVideo},
		{"video.mkv", FileTypeVideo},

		{"document.pdf", FileTypeUnknown},
		{"file.txt", FileTypeUnknown},
		{"noextension", FileTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := GetFileType(tt.filename); got != tt.expected {
				t.Errorf("GetFileType(%q) = %v, want %v", tt.filename, got, tt.expected)
			}
		})
	}
}

func TestMimeType(t *testing.T) {
	tests := []struct {
		filename string
		expected string
	}{
		{"a.jpg", "image/jpeg"},
		{"a.jpeg", "image/jpeg"},
		{"a.png", "image/png"},
		{"a.heic", "image/heic"},
		{"a.mov", "video/quicktime"},
		{"a.mp4", "video/mp4"},
		{"a.xyz", "application/octet-stream"},
	}

	for _, tt := range tests {
		if got := MimeType(tt.filename); got != tt.expected {
			t.Errorf("MimeType(%q) = %q, want %q", tt.filename, got, tt.expected)
		}
	}
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.jpg")
	content := []byte("not really a jpeg")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	sum := sha256.Sum256(content)
	want := hex.EncodeToString(sum[:])

	got, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	if got != want {
		t.Errorf("HashFile = %q, want %q", got, want)
	}

	if _, err := HashFile(filepath.Join(dir, "missing.jpg")); err == nil {
		t.Error("HashFile on missing file should fail")
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exists.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	if !FileExists(path) {
		t.Error("FileExists should be true for an existing file")
	}
	if FileExists(dir) {
		t.Error("FileExists should be false for a directory")
	}
	if FileExists(filepath.Join(dir, "missing")) {
		t.Error("FileExists should be false for a missing file")
	}
}

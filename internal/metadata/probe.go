package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// ProbeTimeout bounds a single exiftool invocation.
const ProbeTimeout = 15 * time.Second

// Probe extracts raw metadata fields from files whose tags cannot be parsed
// in-process (HEIC, MOV, MP4). Tests substitute an in-process stub.
type Probe interface {
	Probe(ctx context.Context, path string) (map[string]interface{}, error)
}

// ExiftoolProbe shells out to exiftool with JSON output and numeric GPS
// values (-n), the same invocation the legacy pipeline used.
type ExiftoolProbe struct{}

// Available reports whether exiftool is present in PATH.
func (ExiftoolProbe) Available() bool {
	_, err := exec.LookPath("exiftool")
	return err == nil
}

// Probe runs exiftool and returns the tag map for the file.
func (ExiftoolProbe) Probe(ctx context.Context, path string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "exiftool", "-j", "-n", path)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("exiftool failed: %v, stderr: %s", err, stderr.String())
	}

	// exiftool -j emits a one-element array per input file.
	var entries []map[string]interface{}
	if err := json.Unmarshal(stdout.Bytes(), &entries); err != nil {
		return nil, fmt.Errorf("failed to parse exiftool output: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("exiftool returned no entries")
	}

	return entries[0], nil
}

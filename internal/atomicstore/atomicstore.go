// Package atomicstore writes are durable or not observed: every JSON or text
// write goes through temp-file-create, fsync, rename (spec §4.2).
package atomicstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// WriteJSON marshals v as 2-space-indented JSON with a trailing newline and
// atomically replaces path's contents (spec §6.2: "2-space-indented JSON,
// UTF-8, trailing newline permitted").
func WriteJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("atomicstore: marshal: %w", err)
	}
	b = append(b, '\n')
	return WriteFile(path, b, 0o600)
}

// WriteFile performs the temp-file + fsync + rename dance for arbitrary
// content (used for text files like progress.txt and notepad.md as well as
// the JSON helper above).
func WriteFile(path string, content []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("atomicstore: mkdir %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp.%s", filepath.Base(path), uuid.NewString()))
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("atomicstore: create temp: %w", err)
	}

	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("atomicstore: write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("atomicstore: fsync temp: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("atomicstore: close temp: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("atomicstore: rename: %w", err)
	}

	fsyncDirBestEffort(dir)
	return nil
}

// fsyncDirBestEffort fsyncs the parent directory so the rename itself is
// durable. Some platforms (notably certain network filesystems) disallow
// fsync on a directory fd; that failure is swallowed, matching spec §4.2
// step 5 and the ENOTSUP-class tolerance called out in §9.
func fsyncDirBestEffort(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

// SafeReadJSON unmarshals path into v. It returns (found=false, err=nil) on
// a missing file or any parse error — callers treat both as "no state"
// (spec §4.2, §7 StateCorrupt). A genuine read error (e.g. permission
// denied) is still returned so callers can distinguish "absent" from
// "broken".
func SafeReadJSON(path string, v any) (found bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("atomicstore: read %s: %w", path, err)
	}
	if jsonErr := json.Unmarshal(b, v); jsonErr != nil {
		return false, nil
	}
	return true, nil
}

// ReadFile returns the raw content of path, or (nil, false, nil) if missing.
func ReadFile(path string) (content []byte, found bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("atomicstore: read %s: %w", path, err)
	}
	return b, true, nil
}

// Remove deletes path, tolerating "already gone".
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("atomicstore: remove %s: %w", path, err)
	}
	return nil
}

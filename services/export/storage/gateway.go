// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage persists generated export artifacts on the local filesystem.
//
// The Gateway validates, writes, reads, and reclaims artifacts under a
// configured root directory and size quota. Writes are atomic (temp file +
// rename) so a crash never leaves a partially visible artifact. The root
// directory is a hard boundary: every path handed to Read or Delete is
// resolved and rejected if it escapes the root.
//
// # Thread Safety
//
// Gateway is safe for concurrent use. A mutex serializes directory-level
// operations; individual file writes are already atomic.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/HarborLine/HarborExport/services/export/datatypes"
)

// DefaultMaxArtifactBytes caps a single artifact at 50 MiB unless configured.
const DefaultMaxArtifactBytes = 50 << 20

// Gateway stores export artifacts under a root directory.
type Gateway struct {
	// root is the directory all artifacts live under.
	root string

	// maxBytes is the largest artifact Save accepts.
	maxBytes int64

	// quotaBytes is the total storage budget used by Usage to report
	// available capacity. Zero means unbounded.
	quotaBytes int64

	// mu protects directory-level operations (cleanup, usage walks).
	mu sync.RWMutex
}

// NewGateway creates a gateway rooted at dir, creating it if absent.
//
// # Inputs
//
//   - dir: Root directory for artifacts. Must be non-empty.
//   - maxBytes: Per-artifact size cap. <= 0 selects DefaultMaxArtifactBytes.
//   - quotaBytes: Total storage budget for Usage reporting. <= 0 disables it.
//
// # Outputs
//
//   - *Gateway: Ready-to-use gateway.
//   - error: Non-nil if the directory cannot be created.
func NewGateway(dir string, maxBytes, quotaBytes int64) (*Gateway, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage root directory is required")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxArtifactBytes
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	return &Gateway{root: abs, maxBytes: maxBytes, quotaBytes: quotaBytes}, nil
}

// Root returns the absolute storage root directory.
func (g *Gateway) Root() string { return g.root }

// MaxBytes returns the per-artifact size cap.
func (g *Gateway) MaxBytes() int64 { return g.maxBytes }

// Save writes an artifact atomically and returns its path and size.
//
// # Description
//
// Rejects payloads over the configured maximum with ErrPayloadTooLarge.
// The stored filename is collision-resistant: timestamp, random suffix, and
// a sanitized version of the suggested name, with the canonical extension
// for the format. The write goes to a temp file first and is renamed into
// place, so readers never observe a partial artifact.
//
// # Inputs
//
//   - data: Artifact bytes.
//   - suggestedName: Client-supplied name hint; sanitized before use.
//   - format: Export format selecting the file extension.
//
// # Outputs
//
//   - string: Absolute path of the stored artifact.
//   - int64: Size in bytes.
//   - error: ErrPayloadTooLarge or a wrapped I/O error.
func (g *Gateway) Save(data []byte, suggestedName string, format datatypes.Format) (string, int64, error) {
	if int64(len(data)) > g.maxBytes {
		return "", 0, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(data), g.maxBytes)
	}

	filename := g.generateFilename(suggestedName, format)
	path := filepath.Join(g.root, filename)

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0640); err != nil {
		return "", 0, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("failed to finalize artifact: %w", err)
	}

	return path, int64(len(data)), nil
}

// Read returns the bytes of a stored artifact.
//
// Fails with ErrNotFound if the path is absent or not a regular file, and
// with ErrPathOutsideRoot if the path escapes the storage root.
func (g *Gateway) Read(path string) ([]byte, error) {
	resolved, err := g.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrNotFound, path)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// Delete removes a stored artifact.
//
// Idempotent: returns false (and no error) if the artifact was already
// absent, true if a file was removed.
func (g *Gateway) Delete(path string) (bool, error) {
	resolved, err := g.resolve(path)
	if err != nil {
		return false, err
	}

	err = os.Remove(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete artifact: %w", err)
	}
	return true, nil
}

// CleanupOlderThan deletes artifacts whose modification time is older than
// now minus age, returning the number removed. Used for retention, not
// correctness; task records are untouched.
func (g *Gateway) CleanupOlderThan(age time.Duration) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := time.Now().Add(-age)

	entries, err := os.ReadDir(g.root)
	if err != nil {
		return 0, fmt.Errorf("failed to list storage root: %w", err)
	}

	var removed int
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // skip files we can't stat
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(g.root, entry.Name())); err != nil {
				return removed, fmt.Errorf("failed to delete %s: %w", entry.Name(), err)
			}
			removed++
		}
	}
	return removed, nil
}

// Usage reports bytes used under the root and bytes available against the
// configured quota. Available is -1 when no quota is set.
func (g *Gateway) Usage() (used, available int64, err error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	entries, err := os.ReadDir(g.root)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list storage root: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		used += info.Size()
	}

	if g.quotaBytes <= 0 {
		return used, -1, nil
	}
	available = g.quotaBytes - used
	if available < 0 {
		available = 0
	}
	return used, available, nil
}

// NewDownloadToken returns an opaque random token for download URLs.
func NewDownloadToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the process is in a bad state; fall back
		// to a timestamp so downloads still work.
		return fmt.Sprintf("t%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// resolve cleans a path and enforces the root boundary.
func (g *Gateway) resolve(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if abs != g.root && !strings.HasPrefix(abs, g.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, path)
	}
	return abs, nil
}

// generateFilename creates a unique artifact filename.
//
// The name combines a second-resolution timestamp, a random suffix for
// collision resistance within the same second, and the sanitized hint.
func (g *Gateway) generateFilename(hint string, format datatypes.Format) string {
	timestamp := time.Now().Format("20060102-150405")

	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)

	clean := sanitizeName(hint)
	if clean != "" {
		return fmt.Sprintf("export-%s-%s-%s%s", timestamp, hex.EncodeToString(suffix), clean, format.Extension())
	}
	return fmt.Sprintf("export-%s-%s%s", timestamp, hex.EncodeToString(suffix), format.Extension())
}

// sanitizeName removes unsafe characters from a filename hint.
func sanitizeName(hint string) string {
	// Strip any client-supplied extension; the format decides it.
	hint = strings.TrimSuffix(hint, filepath.Ext(hint))

	var result strings.Builder
	for _, r := range hint {
		switch {
		case r >= 'a' && r <= 'z':
			result.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			result.WriteRune(r)
		case r >= '0' && r <= '9':
			result.WriteRune(r)
		case r == '-' || r == '_':
			result.WriteRune(r)
		case r == ' ':
			result.WriteRune('_')
		default:
			// drop
		}
	}

	s := result.String()
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

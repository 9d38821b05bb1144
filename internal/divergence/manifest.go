// Package divergence compares a project's files against the template
// baseline it was generated from.
package divergence

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"unicode/utf8"
)

// DefaultIgnoredDirs are never included in a manifest.
var DefaultIgnoredDirs = []string{".git", "node_modules", ".vibebiz"}

// binarySniffLen is how much of a file is inspected to decide if it is text.
const binarySniffLen = 8192

// Manifest maps slash-separated relative paths to content hashes.
type Manifest map[string]string

// Paths returns the manifest's paths in sorted order.
func (m Manifest) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Digest returns a single hash identifying the whole manifest.
func (m Manifest) Digest() string {
	h := sha256.New()
	for _, p := range m.Paths() {
		fmt.Fprintf(h, "%s\x00%s\n", p, m[p])
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// IsBinary reports whether data looks like binary content.
func IsBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	sniff := data
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return true
	}
	// A multi-byte rune may be cut at the sniff boundary.
	for i := 0; i < utf8.UTFMax && len(sniff) > 0; i++ {
		if utf8.Valid(sniff) {
			return false
		}
		if len(data) <= binarySniffLen {
			return true
		}
		sniff = sniff[:len(sniff)-1]
	}
	return true
}

// NormalizeText converts CRLF and lone CR line endings to LF.
func NormalizeText(data []byte) []byte {
	if bytes.IndexByte(data, '\r') < 0 {
		return data
	}
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(data, []byte("\r"), []byte("\n"))
}

// HashContent hashes file content. Text is hashed after line-ending
// normalization so a checkout on another platform does not read as modified.
func HashContent(data []byte) string {
	if !IsBinary(data) {
		data = NormalizeText(data)
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// BuildOptions tunes BuildManifest.
type BuildOptions struct {
	// IgnoreDirs replaces DefaultIgnoredDirs when non-nil.
	IgnoreDirs []string
	// IgnorePatterns are path.Match patterns tested against each relative
	// path and its base name.
	IgnorePatterns []string
}

// BuildManifest hashes every regular file under root.
func BuildManifest(root string, opts BuildOptions) (Manifest, error) {
	ignoreDirs := opts.IgnoreDirs
	if ignoreDirs == nil {
		ignoreDirs = DefaultIgnoredDirs
	}
	skipDir := make(map[string]bool, len(ignoreDirs))
	for _, d := range ignoreDirs {
		skipDir[d] = true
	}

	manifest := make(Manifest)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && skipDir[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || ignored(rel, opts.IgnorePatterns) {
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		manifest[rel] = HashContent(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("build manifest: %w", err)
	}
	return manifest, nil
}

func ignored(rel string, patterns []string) bool {
	base := path.Base(rel)
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// Package bundle packs component source trees into gzipped tarballs and
// unpacks them into a project.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
)

// Extension is the file extension of component bundles.
const Extension = ".tar.gz"

// ErrUnsafePath is returned for archive entries that would escape the destination.
var ErrUnsafePath = errors.New("archive entry escapes destination")

func format() archives.CompressedArchive {
	return archives.CompressedArchive{
		Compression: archives.Gz{},
		Archival:    archives.Tar{},
		Extraction:  archives.Tar{},
	}
}

// Pack writes srcDir to w as a gzipped tarball whose entries live under root/.
func Pack(ctx context.Context, srcDir, root string, w io.Writer) error {
	info, err := os.Stat(srcDir)
	if err != nil {
		return fmt.Errorf("stat bundle source: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("bundle source %s is not a directory", srcDir)
	}

	files, err := archives.FilesFromDisk(ctx, nil, map[string]string{
		srcDir: root,
	})
	if err != nil {
		return fmt.Errorf("collect bundle files: %w", err)
	}
	if err := format().Archive(ctx, w, files); err != nil {
		return fmt.Errorf("create bundle: %w", err)
	}
	return nil
}

// Unpack extracts a bundle into dest, dropping the first strip path
// components of every entry. Symlinks and entries outside dest are rejected.
func Unpack(ctx context.Context, r io.Reader, dest string, strip int) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create destination %s: %w", dest, err)
	}

	err := format().Extract(ctx, r, func(_ context.Context, fi archives.FileInfo) error {
		name, ok := stripComponents(fi.NameInArchive, strip)
		if !ok {
			return nil
		}
		target, err := safeJoin(dest, name)
		if err != nil {
			return err
		}

		switch {
		case fi.IsDir():
			return os.MkdirAll(target, 0o755)
		case fi.LinkTarget != "" || fi.Mode()&os.ModeSymlink != 0:
			return fmt.Errorf("%w: %s is a link", ErrUnsafePath, fi.NameInArchive)
		case !fi.Mode().IsRegular():
			return nil
		}
		return writeFile(fi, target)
	})
	if err != nil {
		return fmt.Errorf("extract bundle: %w", err)
	}
	return nil
}

func writeFile(fi archives.FileInfo, target string) error {
	src, err := fi.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm()|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("write %s: %w", fi.NameInArchive, err)
	}
	return dst.Close()
}

func stripComponents(name string, strip int) (string, bool) {
	name = strings.Trim(path.Clean("/"+name), "/")
	if name == "" {
		return "", false
	}
	parts := strings.Split(name, "/")
	if len(parts) <= strip {
		return "", false
	}
	return strings.Join(parts[strip:], "/"), true
}

func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

// Package extract unpacks gzip-compressed tar archives.
package extract

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrIllegalPath is returned for entries that would land outside destDir.
var ErrIllegalPath = errors.New("illegal file path")

// TarGzFile extracts the archive at archivePath into destDir.
func TarGzFile(archivePath, destDir string, strip int) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	return TarGz(archiveFile, destDir, strip)
}

// TarGz extracts a .tar.gz stream into destDir, dropping the first strip
// path components of every entry. Entries with no components left after
// stripping are skipped. Directories, regular files and symlinks are
// created; other entry types are ignored.
//
// Nothing is written outside destDir. Symlinks must be relative, may only
// climb with leading ".." elements and must resolve inside destDir. No
// entry may be written through an existing symlink.
func TarGz(r io.Reader, destDir string, strip int) error {
	gzipReader, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}
	root := filepath.Clean(destDir)

	dir, err := os.OpenRoot(root)
	if err != nil {
		return fmt.Errorf("open dest dir: %w", err)
	}
	defer dir.Close()

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		name, ok := stripComponents(header.Name, strip)
		if !ok {
			continue
		}

		target := filepath.Join(root, name)
		if !within(root, target) {
			return fmt.Errorf("%w: %s", ErrIllegalPath, header.Name)
		}
		rel, err := filepath.Rel(root, target)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrIllegalPath, header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir, tar.TypeReg, tar.TypeSymlink:
		default:
			continue
		}

		if err := noSymlinkOnPath(dir, rel); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrIllegalPath, header.Name, err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := dir.MkdirAll(rel, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", target, err)
			}

		case tar.TypeReg:
			if err := writeFile(dir, rel, tarReader, os.FileMode(header.Mode).Perm()); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if !linkInside(root, target, header.Linkname) {
				return fmt.Errorf("%w: symlink %s -> %s", ErrIllegalPath, header.Name, header.Linkname)
			}
			if err := mkdirParent(dir, rel); err != nil {
				return err
			}
			if err := dir.Symlink(header.Linkname, rel); err != nil {
				return fmt.Errorf("create symlink %s: %w", target, err)
			}
		}
	}

	return nil
}

// SingleRoot returns the one top-level entry of dir, which must be a
// directory.
func SingleRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read extracted tree: %w", err)
	}

	if len(entries) != 1 {
		return "", fmt.Errorf("expected a single top-level directory in %s, found %d entries", dir, len(entries))
	}

	root := filepath.Join(dir, entries[0].Name())
	if !entries[0].IsDir() {
		return "", fmt.Errorf("top-level entry %s is not a directory", root)
	}

	return root, nil
}

func writeFile(dir *os.Root, rel string, r io.Reader, mode os.FileMode) error {
	if err := mkdirParent(dir, rel); err != nil {
		return err
	}

	outFile, err := dir.OpenFile(rel, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create file %s: %w", rel, err)
	}

	if _, err := io.Copy(outFile, r); err != nil {
		outFile.Close()
		return fmt.Errorf("write file %s: %w", rel, err)
	}

	if err := outFile.Close(); err != nil {
		return fmt.Errorf("close file %s: %w", rel, err)
	}

	return nil
}

func mkdirParent(dir *os.Root, rel string) error {
	parent := filepath.Dir(rel)
	if parent == "." {
		return nil
	}
	if err := dir.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", rel, err)
	}
	return nil
}

// noSymlinkOnPath fails when rel or any of its parents already exists as a
// symlink below dir.
func noSymlinkOnPath(dir *os.Root, rel string) error {
	cur := ""
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		cur = filepath.Join(cur, part)

		info, err := dir.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%s is a symlink", cur)
		}
	}
	return nil
}

// linkInside reports whether a symlink at linkPath pointing to linkname
// stays below root. Only leading ".." elements are accepted so that the
// link never climbs out of a directory reached through another link.
func linkInside(root, linkPath, linkname string) bool {
	if linkname == "" || filepath.IsAbs(linkname) {
		return false
	}

	cur := filepath.Dir(linkPath)
	descended := false
	for _, part := range strings.Split(filepath.ToSlash(linkname), "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			if descended {
				return false
			}
			cur = filepath.Dir(cur)
		default:
			descended = true
			cur = filepath.Join(cur, part)
		}
		if !within(root, cur) {
			return false
		}
	}

	return true
}

// stripComponents drops the leading n slash-separated components of name.
func stripComponents(name string, n int) (string, bool) {
	parts := strings.Split(strings.Trim(filepath.ToSlash(name), "/"), "/")

	kept := parts[:0]
	for _, p := range parts {
		if p != "" && p != "." {
			kept = append(kept, p)
		}
	}

	if len(kept) <= n {
		return "", false
	}

	return filepath.FromSlash(strings.Join(kept[n:], "/")), true
}

func within(root, target string) bool {
	return target == root || strings.HasPrefix(target, root+string(os.PathSeparator))
}

package verify

import (
	"bufio"
	"bytes"
	"crypto/sha1" //nolint:gosec // SPDX documents may only declare SHA1.
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrMissingFile      = errors.New("declared file missing")
	ErrNoChecksum       = errors.New("no supported checksum")
)

// algorithms in order of preference.
var algorithms = []struct {
	name string
	new  func() hash.Hash
}{
	{"SHA256", sha256.New},
	{"SHA512", sha512.New},
	{"SHA1", sha1.New},
}

// FileEntry is one file declared by an SBOM.
type FileEntry struct {
	Name      string
	Checksums map[string]string // algorithm (upper case) → lowercase hex
}

type spdxJSON struct {
	Files []struct {
		FileName  string `json:"fileName"`
		Checksums []struct {
			Algorithm     string `json:"algorithm"`
			ChecksumValue string `json:"checksumValue"`
		} `json:"checksums"`
	} `json:"files"`
}

// ParseSBOM reads the files section of an SPDX document in tag-value or
// JSON format.
func ParseSBOM(r io.Reader) ([]FileEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read sbom: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		return parseSPDXJSON(trimmed)
	}
	return parseSPDXTagValue(trimmed)
}

func parseSPDXJSON(data []byte) ([]FileEntry, error) {
	var doc spdxJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode spdx json: %w", ErrMalformed, err)
	}

	files := make([]FileEntry, 0, len(doc.Files))
	for _, f := range doc.Files {
		entry := FileEntry{Name: f.FileName, Checksums: map[string]string{}}
		for _, c := range f.Checksums {
			entry.Checksums[strings.ToUpper(c.Algorithm)] = strings.ToLower(c.ChecksumValue)
		}
		files = append(files, entry)
	}
	return files, nil
}

func parseSPDXTagValue(data []byte) ([]FileEntry, error) {
	var (
		files   []FileEntry
		current *FileEntry
	)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		tag, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(tag) {
		case "FileName":
			files = append(files, FileEntry{Name: value, Checksums: map[string]string{}})
			current = &files[len(files)-1]
		case "PackageName":
			// File tags after a new package belong to that package's files.
			current = nil
		case "FileChecksum":
			if current == nil {
				return nil, fmt.Errorf("%w: FileChecksum outside a file section", ErrMalformed)
			}
			algo, sum, ok := strings.Cut(value, ":")
			if !ok {
				return nil, fmt.Errorf("%w: FileChecksum %q", ErrMalformed, value)
			}
			current.Checksums[strings.ToUpper(strings.TrimSpace(algo))] = strings.ToLower(strings.TrimSpace(sum))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan spdx: %w", ErrMalformed, err)
	}

	return files, nil
}

// ValidateSBOM checks that every file declared by the SBOM at sbomPath
// exists below dir with the declared digest.
func ValidateSBOM(sbomPath, dir string) error {
	if err := validateSBOM(sbomPath, dir); err != nil {
		return &VerificationError{Subject: sbomPath, Err: err}
	}
	return nil
}

func validateSBOM(sbomPath, dir string) error {
	f, err := os.Open(sbomPath)
	if err != nil {
		return fmt.Errorf("open sbom: %w", err)
	}
	defer f.Close()

	files, err := ParseSBOM(f)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: sbom declares no files", ErrMalformed)
	}

	root := filepath.Clean(dir)
	for _, entry := range files {
		if err := checkFile(root, entry); err != nil {
			return err
		}
	}

	return nil
}

func checkFile(root string, entry FileEntry) error {
	rel := strings.TrimPrefix(filepath.ToSlash(entry.Name), "./")
	path := filepath.Join(root, filepath.FromSlash(strings.TrimLeft(rel, "/")))
	if path != root && !strings.HasPrefix(path, root+string(os.PathSeparator)) {
		return fmt.Errorf("%w: %s escapes the extracted tree", ErrMalformed, entry.Name)
	}

	for _, algo := range algorithms {
		want, ok := entry.Checksums[algo.name]
		if !ok {
			continue
		}

		got, err := digest(path, algo.new())
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissingFile, entry.Name)
		}
		if err != nil {
			return err
		}

		if got != want {
			return fmt.Errorf("%w: %s: %s want %s got %s", ErrChecksumMismatch, entry.Name, algo.name, want, got)
		}
		return nil
	}

	return fmt.Errorf("%w: %s", ErrNoChecksum, entry.Name)
}

func digest(path string, h hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

package pcp

import (
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNoArchive is returned when an extracted tree contains no PCP data set.
var ErrNoArchive = fmt.Errorf("no PCP archive found (no .meta file)")

// Extractor unpacks archive containers and locates the data set inside.
// The pipeline sees extraction as a black box with a success/failure and
// output-directory contract.
type Extractor interface {
	Extract(archivePath, extractDir string) (string, error)
	FindArchiveBase(extractDir string) (string, error)
}

// TarExtractor shells out to tar for .tar.xz containers.
type TarExtractor struct{}

var _ Extractor = TarExtractor{}

func (TarExtractor) Extract(archivePath, extractDir string) (string, error) {
	return Extract(archivePath, extractDir)
}

func (TarExtractor) FindArchiveBase(extractDir string) (string, error) {
	return FindArchiveBase(extractDir)
}

// Extract unpacks a .tar.xz container into its own directory under
// extractDir and returns that directory. Any previous extraction for the
// same archive is removed first; the directory is never shared between
// concurrent runs.
func Extract(archivePath, extractDir string) (string, error) {
	baseName := strings.TrimSuffix(filepath.Base(archivePath), ".tar.xz")
	targetDir := filepath.Join(extractDir, baseName)

	if err := os.RemoveAll(targetDir); err != nil {
		return "", fmt.Errorf("failed to clear extraction directory: %w", err)
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create extraction directory: %w", err)
	}

	cmd := exec.Command("tar", "-xJf", archivePath, "-C", targetDir)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("extraction failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return targetDir, nil
}

// FindArchiveBase walks the extracted tree for the first .meta file and
// returns its path minus the extension, which is the handle the PCP tools take.
func FindArchiveBase(extractDir string) (string, error) {
	var base string

	err := filepath.WalkDir(extractDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".meta") {
			base = strings.TrimSuffix(path, ".meta")
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if base == "" {
		return "", ErrNoArchive
	}
	return base, nil
}

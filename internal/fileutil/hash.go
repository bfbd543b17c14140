package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/skelly-dev/context-oracle/internal/ignore"
)

// ScannedFile is the content identity of one source file.
type ScannedFile struct {
	Hash    string
	Size    int64
	ModTime time.Time
}

func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// HashBytes uses the same short sha256 form as HashFile.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// ScanFiles walks rootPath and hashes every file accepted by include and not
// excluded by the ignore matcher. Keys are slash-separated relative paths.
func ScanFiles(rootPath string, matcher *ignore.Matcher, include func(relPath string) bool) (map[string]ScannedFile, error) {
	files := make(map[string]ScannedFile)

	err := filepath.Walk(rootPath, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		relPath, err := filepath.Rel(rootPath, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if matcher != nil && matcher.ShouldIgnore(relPath, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		if include != nil && !include(relPath) {
			return nil
		}

		hash, err := HashFile(path)
		if err != nil {
			return fmt.Errorf("failed to hash %s: %w", relPath, err)
		}
		files[relPath] = ScannedFile{
			Hash:    hash,
			Size:    info.Size(),
			ModTime: info.ModTime().UTC(),
		}
		return nil
	})

	return files, err
}

// LatestModTime returns the newest modification time among files, truncated
// to whole seconds so it renders identically across filesystems.
func LatestModTime(files map[string]ScannedFile) time.Time {
	var latest time.Time
	for _, file := range files {
		if file.ModTime.After(latest) {
			latest = file.ModTime
		}
	}
	return latest.UTC().Truncate(time.Second)
}

package util

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidFileName = errors.New("invalid file name")
	ErrUnsupportedType = errors.New("unsupported video type")
)

// VideoExtensions lists the accepted upload container extensions.
var VideoExtensions = []string{".mp4", ".mov", ".mkv", ".webm"}

// OwnerKey returns a filesystem-safe identifier for an owner ID.
func OwnerKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

// SanitizeFileName removes path separators and rejects traversal patterns.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", ErrInvalidFileName
	}
	s := strings.TrimSpace(name)
	s = strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(s)
	if s == "" {
		return "", ErrInvalidFileName
	}
	return s, nil
}

// CheckVideoName validates that name carries an accepted video extension.
func CheckVideoName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidFileName
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range VideoExtensions {
		if ext == allowed {
			return nil
		}
	}
	return ErrUnsupportedType
}

package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeFileName replaces whitespace with underscores and drops every
// character outside [a-zA-Z0-9._-]
func SanitizeFileName(name string) string {
	name = strings.Join(strings.Fields(name), "_")
	return unsafeNameChars.ReplaceAllString(name, "")
}

// RandomSuffix returns n random base36 characters
func RandomSuffix(n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)

	max := big.NewInt(int64(len(base36Alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(base36Alphabet[idx.Int64()])
	}
	return sb.String(), nil
}

// GenerateAssetName builds a collision-resistant storage name of the form
// <unix-millis>-<7 base36 chars>-<sanitized file name>
func GenerateAssetName(fileName string, now time.Time) (string, error) {
	suffix, err := RandomSuffix(7)
	if err != nil {
		return "", fmt.Errorf("failed to generate random suffix: %w", err)
	}
	return fmt.Sprintf("%d-%s-%s", now.UnixMilli(), suffix, SanitizeFileName(fileName)), nil
}

// ContentTypeFor resolves a content type from the file name, falling back to
// image/<format> and finally image/jpeg
func ContentTypeFor(fileName, format string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName))); ct != "" {
		return ct
	}
	if format != "" {
		return "image/" + strings.ToLower(format)
	}
	return "image/jpeg"
}

// FormatFromName returns the lower-case extension without the dot
func FormatFromName(fileName string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
}

// ComputeSHA256FromReader computes SHA256 hash from an io.Reader
func ComputeSHA256FromReader(reader io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, reader); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// FormatBytes formats byte size in human-readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	suffixes := []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), suffixes[exp])
}

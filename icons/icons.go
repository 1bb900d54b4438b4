package icons

import (
	"context"
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IconStoragePath defines the location where icons are stored.
// Must be set before anything else from this package is called.
// Must not be changed once set.
var IconStoragePath = ""

// ErrIconIgnored is returned when the icon should be ignored.
var ErrIconIgnored = errors.New("icon is ignored")

// maxIconSize is the biggest accepted icon file.
const maxIconSize = 1_000_000

// iconExts holds the accepted icon file extensions and the canonical form
// they are stored under.
var iconExts = map[string]string{
	"cur":  "cur",
	"gif":  "gif",
	"ico":  "ico",
	"jpeg": "jpg",
	"jpg":  "jpg",
	"png":  "png",
	"svg":  "svg",
	"tiff": "tiff",
	"webp": "webp",
}

// ignoredIcons holds SHA1 sums of icons that are known to be generic
// placeholders and should not be stored or served.
var ignoredIcons = map[string]struct{}{}

// IgnoreIcon reports whether the icon with the given name or sum should be ignored.
func IgnoreIcon(name string) bool {
	sum, _, _ := strings.Cut(name, ".")
	_, ignored := ignoredIcons[sum]
	return ignored
}

// GetIcon returns the icon with the given name and extension.
func GetIcon(name string) ([]byte, error) {
	if IconStoragePath == "" {
		return nil, errors.New("icon storage not configured")
	}
	if IgnoreIcon(name) {
		return nil, ErrIconIgnored
	}

	iconPath, err := filepath.Abs(filepath.Join(IconStoragePath, name))
	if err != nil {
		return nil, fmt.Errorf("failed to check icon path: %w", err)
	}
	// Do a quick check if we are still within the right directory.
	// This check is not entirely correct, but is sufficient for this use case.
	if filepath.Dir(iconPath) != IconStoragePath {
		return nil, errors.New("invalid icon path")
	}

	return os.ReadFile(iconPath)
}

// SaveIcon creates or updates the given icon in the icon storage.
func SaveIcon(data []byte, ext string) (filename string, err error) {
	if IconStoragePath == "" {
		return "", errors.New("icon storage not configured")
	}
	if len(data) > maxIconSize {
		return "", errors.New("icon too big")
	}

	canonicalExt, ok := iconExts[strings.ToLower(strings.TrimPrefix(ext, "."))]
	if !ok {
		return "", errors.New("unsupported icon format")
	}

	// Icons are content addressed by their sha1 sum.
	h := sha1.New()
	if _, err := h.Write(data); err != nil {
		return "", err
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if IgnoreIcon(sum) {
		return "", ErrIconIgnored
	}

	filename = sum + "." + canonicalExt
	return filename, os.WriteFile(filepath.Join(IconStoragePath, filename), data, 0o0644) //nolint:gosec
}

// LoadAndSaveIcon loads an icon from disk, imports it into the icon storage
// and returns the icon object.
func LoadAndSaveIcon(ctx context.Context, iconPath string) (*Icon, error) {
	data, err := os.ReadFile(iconPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read icon %s: %w", iconPath, err)
	}
	filename, err := SaveIcon(data, filepath.Ext(iconPath))
	if err != nil {
		return nil, fmt.Errorf("failed to import icon %s: %w", iconPath, err)
	}
	return &Icon{
		Type:   IconTypeAPI,
		Value:  filename,
		Source: IconSourceImport,
	}, nil
}

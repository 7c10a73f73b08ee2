package utils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// imageExtensions are the image types a task accepts
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tif":  true,
	".tiff": true,
}

// IsImageFile reports whether path has an accepted image extension
func IsImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// CollectImages expands paths into a sorted list of image files. Files are
// taken as given; directories contribute the images directly inside them.
func CollectImages(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var images []string
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			images = append(images, path)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", p, err)
		}
		if !info.IsDir() {
			add(filepath.Clean(p))
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", p, err)
		}
		for _, e := range entries {
			if e.Type()&fs.ModeType == 0 && IsImageFile(e.Name()) {
				add(filepath.Join(p, e.Name()))
			}
		}
	}

	sort.Strings(images)
	return images, nil
}

// SafeName makes s usable as a single path element
func SafeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// FormatFileSize formats file size in human readable format
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

// ResolveDownloadDir validates a download directory, creating it when only the
// last path element is missing.
func ResolveDownloadDir(destPath string) (string, error) {
	if info, err := os.Stat(destPath); err == nil {
		if info.IsDir() {
			return destPath, nil
		}
		return "", fmt.Errorf("destination path '%s' exists but is not a directory", destPath)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("cannot access destination path: %w", err)
	}

	if err := os.Mkdir(destPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create destination directory: %w", err)
	}
	return destPath, nil
}

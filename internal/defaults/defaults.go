// Package defaults locates the data directory and provides the embedded
// default configuration copied into it on init.
//
// Lookup order:
//
//	$DOMGUARD_DATA_DIR
//	the nearest .domguard directory at or above the working directory
//	macOS:   ~/Library/Application Support/DOMGuard/
//	Windows: %AppData%\DOMGuard\
//	Linux:   ~/.config/domguard/
package defaults

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

//go:embed dotdomguard/*
var defaultFiles embed.FS

const (
	// ProjectDirName is the project-local data directory created by init.
	ProjectDirName = ".domguard"

	ConfigFile    = "config.yaml"
	HistoryDBFile = "history.db"
	SessionsDir   = "sessions"
	WorkflowsDir  = "workflows"
	ScreenshotDir = "screenshots"
)

// Subdirs are created inside every data directory.
var Subdirs = []string{SessionsDir, WorkflowsDir, ScreenshotDir}

// DataDir returns the data directory without creating it.
func DataDir() (string, error) {
	if dir := os.Getenv("DOMGUARD_DATA_DIR"); dir != "" {
		return dir, nil
	}
	if wd, err := os.Getwd(); err == nil {
		if dir, ok := FindProjectDir(wd); ok {
			return dir, nil
		}
	}
	return GlobalDir()
}

// FindProjectDir walks up from start looking for a .domguard directory.
func FindProjectDir(start string) (string, bool) {
	dir := start
	for {
		candidate := filepath.Join(dir, ProjectDirName)
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// GlobalDir returns the per-user data directory.
func GlobalDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	// Linux: lowercase per XDG convention
	if runtime.GOOS == "linux" {
		return filepath.Join(configDir, "domguard"), nil
	}
	return filepath.Join(configDir, "DOMGuard"), nil
}

// EnsureDataDir resolves the data directory, creates it and its
// subdirectories, and copies missing default files.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return dir, Init(dir, false)
}

// Init creates dir with its subdirectories and default files. Existing
// files are kept unless overwrite is set.
func Init(dir string, overwrite bool) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	for _, sub := range Subdirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", sub, err)
		}
	}
	return copyDefaults(dir, overwrite)
}

// copyDefaults copies embedded default files to the data directory.
func copyDefaults(dir string, overwrite bool) error {
	return fs.WalkDir(defaultFiles, "dotdomguard", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "dotdomguard" {
			return nil
		}

		// embed.FS always uses forward slashes, so TrimPrefix rather than
		// filepath.Rel.
		relPath := strings.TrimPrefix(path, "dotdomguard/")
		destPath := filepath.Join(dir, relPath)

		if d.IsDir() {
			return os.MkdirAll(destPath, 0755)
		}
		if !overwrite {
			if _, err := os.Stat(destPath); err == nil {
				return nil
			}
		}

		data, err := defaultFiles.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read embedded %s: %w", path, err)
		}
		if err := os.WriteFile(destPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", destPath, err)
		}
		return nil
	})
}

// GetDefault returns the content of a default file by name.
// Example: GetDefault("config.yaml")
func GetDefault(name string) ([]byte, error) {
	return defaultFiles.ReadFile("dotdomguard/" + name)
}

// ListDefaults returns the names of all default files.
func ListDefaults() ([]string, error) {
	var files []string
	err := fs.WalkDir(defaultFiles, "dotdomguard", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && path != "dotdomguard" {
			files = append(files, strings.TrimPrefix(path, "dotdomguard/"))
		}
		return nil
	})
	return files, err
}

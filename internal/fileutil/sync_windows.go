//go:build windows

package fileutil

// Directories cannot be opened for sync on Windows; rename is durable once
// MoveFileEx returns.
func syncDir(string) error { return nil }

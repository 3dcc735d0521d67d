// Package fileutil contains filesystem helpers shared by the scanner and the
// archive builder.
package fileutil

import (
	"os"
	"path/filepath"

	"go.h2hdb.org/infra/go/skerr"
)

// EnsureDirExists checks whether the given path to a directory exists and
// creates it if necessary. Returns the absolute path that corresponds to the
// input path and an error indicating a problem.
func EnsureDirExists(dirPath string) (string, error) {
	absPath, err := filepath.Abs(dirPath)
	if err != nil {
		return "", skerr.Wrap(err)
	}
	return absPath, skerr.Wrap(os.MkdirAll(absPath, 0755))
}

// FileExists returns true if the given path exists and is a regular file.
func FileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// DirExists returns true if the given path exists and is a directory.
func DirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// RemoveIfEmpty removes dir if it contains no entries. Returns true if the
// directory was removed.
func RemoveIfEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, skerr.Wrap(err)
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := os.Remove(dir); err != nil {
		return false, skerr.Wrap(err)
	}
	return true, nil
}

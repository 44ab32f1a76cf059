package engine

import (
	"os"
	"path/filepath"
)

// LocateBinary returns the first regular file named name in installDir,
// then resourcesDir. An empty directory is skipped.
func LocateBinary(installDir, resourcesDir, name string) (string, error) {
	var searched []string
	for _, dir := range []string{installDir, resourcesDir} {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, name)
		searched = append(searched, path)
		if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", &BinaryNotFoundError{Name: name, Searched: searched}
}

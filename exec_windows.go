//go:build windows

package meiliguard

import "io/fs"

// ExeSuffix is appended to executable base names
const ExeSuffix = ".exe"

// Windows has no execute bit; existence as a regular file is enough.
func isExecutable(fs.FileInfo) bool {
	return true
}

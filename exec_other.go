//go:build !windows

package meiliguard

import "io/fs"

// ExeSuffix is appended to executable base names
const ExeSuffix = ""

func isExecutable(fi fs.FileInfo) bool {
	return fi.Mode().Perm()&0o111 != 0
}

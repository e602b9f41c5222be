package container

import (
	"path/filepath"
	"strings"
)

// filepathRel wraps filepath.Rel for names.go so that OS-path handling stays
// in one place.
func filepathRel(root, abspath string) (string, error) {
	return filepath.Rel(root, abspath)
}

// filepath2name converts an OS-native relative path into a canonical,
// "/"-separated Name.
func filepath2name(rel string) string {
	if filepath.Separator == '/' {
		return rel
	}
	return strings.ReplaceAll(rel, string(filepath.Separator), "/")
}

// name2filepath converts a canonical Name into OS-native path components
// joined beneath root.
func name2filepath(root, name string) string {
	if filepath.Separator == '/' {
		return filepath.Join(root, name)
	}
	parts := strings.Split(name, "/")
	elems := append([]string{root}, parts...)
	return filepath.Join(elems...)
}

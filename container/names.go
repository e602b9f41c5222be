package container

import (
	"net/url"
	"path"
	"strings"
)

// noName is returned by HrefToName when an href cannot resolve to a Name:
// it has a scheme, an empty path, or an absolute path.
const noName = ""

// IsValidName reports whether n is usable as a Name: non-empty, not rooted
// (no leading "/"), and with no "." or ".." segment. Percent-encoding is not
// checked.
func IsValidName(n string) bool {
	if n == "" || strings.HasPrefix(n, "/") {
		return false
	}
	for _, seg := range strings.Split(n, "/") {
		if seg == ".." || seg == "." {
			return false
		}
	}
	return true
}

// DirectoryOf returns the directory portion of a Name ("" for a root-level
// name), the Name analogue of path.Dir but without the "." default.
func DirectoryOf(name string) string {
	if name == "" {
		return ""
	}
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return ""
}

// AbspathToName relativizes an absolute filesystem path against root and
// returns the canonical Name, converting OS separators to "/".
func AbspathToName(root, abspath string) (string, error) {
	rel, err := relSlash(root, abspath)
	if err != nil {
		return "", err
	}
	return rel, nil
}

// NameToAbspath joins root with name's "/"-separated components, using the
// host's native path separator.
func NameToAbspath(root, name string) string {
	return name2filepath(root, name)
}

// HrefToName parses href (as it appears in an OPF/XHTML/CSS document),
// resolves it against the directory of baseName (or root when baseName is
// empty), and returns the canonical Name. It returns noName, false when href
// carries a scheme, has an empty path, or is absolute.
func HrefToName(href, baseName string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil {
		return noName, false
	}
	if u.Scheme != "" {
		return noName, false
	}
	if u.Path == "" {
		return noName, false
	}
	if path.IsAbs(u.Path) {
		return noName, false
	}

	decoded, err := url.PathUnescape(u.Path)
	if err != nil {
		decoded = u.Path
	}

	base := DirectoryOf(baseName)
	joined := decoded
	if base != "" {
		joined = path.Join(base, decoded)
	}
	joined = path.Clean(joined)

	if joined == "." {
		return noName, false
	}
	if joined == ".." || strings.HasPrefix(joined, "../") {
		// escapes root: not a valid in-book name
		return noName, false
	}
	return strings.TrimPrefix(joined, "/"), true
}

// NameToHref relativizes name against the directory of baseName (or root
// when baseName is empty) and percent-encodes each path segment, preserving
// "/" separators. The safe-character set matches net/url's path escaping,
// which is what well-formed OPF producers emit.
func NameToHref(name, baseName string) string {
	base := DirectoryOf(baseName)

	rel := name
	if base != "" {
		r, err := relativize(base, name)
		if err == nil {
			rel = r
		}
	}

	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = (&url.URL{Path: s}).EscapedPath()
	}
	return strings.Join(segs, "/")
}

// relativize computes a "/"-relative path from base directory to target name,
// both canonical Names (no leading/trailing slash, "/"-separated).
func relativize(base, target string) (string, error) {
	if base == "" {
		return target, nil
	}
	baseParts := strings.Split(base, "/")
	targetParts := strings.Split(target, "/")

	i := 0
	for i < len(baseParts) && i < len(targetParts)-1 && baseParts[i] == targetParts[i] {
		i++
	}

	up := strings.Repeat("../", len(baseParts)-i)
	down := strings.Join(targetParts[i:], "/")
	if up == "" {
		return down, nil
	}
	return up + down, nil
}

// relSlash relativizes an absolute filesystem path against root, returning
// a "/"-separated canonical Name.
func relSlash(root, abspath string) (string, error) {
	rel, err := filepathRel(root, abspath)
	if err != nil {
		return "", err
	}
	return filepath2name(rel), nil
}

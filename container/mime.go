package container

import (
	"mime"
	"path"
	"strings"
)

// extToMediaType covers the OEB resource types the stdlib mime package
// either doesn't know or guesses inconsistently across platforms.
var extToMediaType = map[string]string{
	".xhtml": "application/xhtml+xml",
	".html":  "text/html",
	".htm":   "text/html",
	".ncx":   ncxMimetype,
	".opf":   OPFMimetype,
	".css":   "text/css",
	".js":    "application/javascript",
	".otf":   "application/vnd.ms-opentype",
	".ttf":   "application/x-font-truetype",
	".woff":  "application/font-woff",
	".woff2": "application/font-woff2",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".png":   "image/png",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".bmp":   "image/bmp",
	".webp":  "image/webp",
	".mp3":   "audio/mpeg",
	".mp4":   "video/mp4",
	".m4a":   "audio/mp4",
	".xml":   "application/xml",
	".smil":  "application/smil+xml",
	".pls":   "application/pls+xml",
	".txt":   "text/plain",
}

// GuessMediaType returns the MIME type for name by file extension, falling
// back to the stdlib mime package and finally to a generic octet stream.
func GuessMediaType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if mt, ok := extToMediaType[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		if i := strings.IndexByte(mt, ';'); i >= 0 {
			mt = mt[:i]
		}
		return strings.TrimSpace(mt)
	}
	return "application/octet-stream"
}

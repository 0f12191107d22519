package archive

import (
	"mime"
	"path"
	"strconv"
	"strings"
	"unicode"
)

// namer hands out entry names that are unique within one archive.
type namer struct {
	used map[string]bool
}

func newNamer() *namer {
	return &namer{used: make(map[string]bool)}
}

// assign returns hint (or the fallback name for id) with "-1", "-2", ...
// inserted before the extension until the name is unused.
func (n *namer) assign(id, hint, contentType string) string {
	name := sanitizeName(hint)
	if name == "" {
		name = "photo-" + sanitizeName(id) + "." + extensionFor(contentType)
	}

	if !n.used[name] {
		n.used[name] = true
		return name
	}

	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := base + "-" + strconv.Itoa(i) + ext
		if !n.used[candidate] {
			n.used[candidate] = true
			return candidate
		}
	}
}

// sanitizeName strips directory parts and characters that are unsafe in
// archive entry names.
func sanitizeName(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}

	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case strings.ContainsRune(`:*?"<>|`, r):
			return '_'
		}
		return r
	}, s)

	s = strings.TrimLeft(strings.TrimSpace(s), ".")
	return s
}

var knownExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/heic": "heic",
	"image/heif": "heif",
	"image/tiff": "tiff",
	"image/bmp":  "bmp",
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "jpg"
	}
	if ext, ok := knownExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return "jpg"
}

// FileName is the attachment name for an archive with the given label.
func FileName(label string) string {
	label = sanitizeName(label)
	label = strings.Join(strings.Fields(label), "-")
	if label == "" {
		label = "photos"
	}
	return label + ".zip"
}

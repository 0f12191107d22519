package drive

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	folderIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{10,}$`)
	folderPathSuffix = regexp.MustCompile(`/folders/([A-Za-z0-9_-]+)`)
)

// ParseFolderRef extracts a folder id from a raw id or a share link such as
// https://drive.google.com/drive/folders/<id>?usp=sharing or
// https://drive.google.com/open?id=<id>.
func ParseFolderRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidFolderRef)
	}

	if folderIDPattern.MatchString(ref) {
		return ref, nil
	}

	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidFolderRef, ref)
	}

	if m := folderPathSuffix.FindStringSubmatch(u.Path); m != nil && folderIDPattern.MatchString(m[1]) {
		return m[1], nil
	}
	if id := u.Query().Get("id"); folderIDPattern.MatchString(id) {
		return id, nil
	}

	return "", fmt.Errorf("%w: %q", ErrInvalidFolderRef, ref)
}

package drive

import (
	"net/url"
	"regexp"
	"strconv"
	"time"
)

const (
	thumbnailSize = 400
	fullSize      = 1600
)

// Photo is one normalized listing entry.
type Photo struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	MimeType     string     `json:"mimeType,omitempty"`
	ThumbnailURL string     `json:"thumbnailUrl"`
	FullURL      string     `json:"fullUrl"`
	DownloadURL  string     `json:"downloadUrl,omitempty"`
	FolderName   string     `json:"folderName,omitempty"`
	FolderPath   string     `json:"folderPath,omitempty"`
	CreatedTime  *time.Time `json:"createdTime,omitempty"`
}

// file is the subset of upstream file metadata this service reads.
type file struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	MimeType       string `json:"mimeType"`
	ThumbnailLink  string `json:"thumbnailLink"`
	WebContentLink string `json:"webContentLink"`
	CreatedTime    string `json:"createdTime"`
}

var sizeSuffix = regexp.MustCompile(`=s\d+$`)

// normalize prefers links handed out by the API; rebuilt links are throttled
// much sooner by the image CDN.
func normalize(f file, folderName, folderPath string) Photo {
	p := Photo{
		ID:         f.ID,
		Name:       f.Name,
		MimeType:   f.MimeType,
		FolderName: folderName,
		FolderPath: folderPath,
	}

	if f.ThumbnailLink != "" && sizeSuffix.MatchString(f.ThumbnailLink) {
		p.ThumbnailURL = resizeLink(f.ThumbnailLink, thumbnailSize)
		p.FullURL = resizeLink(f.ThumbnailLink, fullSize)
	} else if f.ThumbnailLink != "" {
		p.ThumbnailURL = f.ThumbnailLink
		p.FullURL = "https://lh3.googleusercontent.com/d/" + url.PathEscape(f.ID) + "=w1600"
	} else {
		p.ThumbnailURL = "https://drive.google.com/thumbnail?id=" + url.QueryEscape(f.ID) + "&sz=w400"
		p.FullURL = "https://lh3.googleusercontent.com/d/" + url.PathEscape(f.ID) + "=w1600"
	}

	if f.WebContentLink != "" {
		p.DownloadURL = f.WebContentLink
	} else {
		p.DownloadURL = "https://drive.google.com/uc?export=download&id=" + url.QueryEscape(f.ID)
	}

	if f.CreatedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
			p.CreatedTime = &t
		}
	}
	return p
}

func resizeLink(link string, size int) string {
	return sizeSuffix.ReplaceAllString(link, "=s"+strconv.Itoa(size))
}

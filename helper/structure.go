package helper

import (
	"time"

	"github.com/shahidsiddiqui786/photoselect/drive"
	"github.com/shahidsiddiqui786/photoselect/rotator"
)

type ErrorResponse struct {
	Error        string `json:"error"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
	MaxObjects   int    `json:"maxObjects,omitempty"`
	Succeeded    *int   `json:"succeeded,omitempty"`
	Failed       *int   `json:"failed,omitempty"`
}

type ListingResponse struct {
	FolderID  string        `json:"folderId"`
	Photos    []drive.Photo `json:"photos"`
	Count     int           `json:"count"`
	Cached    bool          `json:"cached"`
	FetchedAt time.Time     `json:"fetchedAt"`
}

type InvalidateResponse struct {
	FolderID    string `json:"folderId"`
	Recursive   bool   `json:"recursive"`
	Invalidated bool   `json:"invalidated"`
}

type ArchiveRequest struct {
	ObjectIDs []string          `json:"objectIds" binding:"required"`
	NameMap   map[string]string `json:"nameMap"`
	Label     string            `json:"label"`
}

type KeyDiagnostic struct {
	Key       string `json:"key"`
	Valid     bool   `json:"valid"`
	Status    int    `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

type DiagnosticsResponse struct {
	Keys     []KeyDiagnostic    `json:"keys"`
	Rotator  []rotator.KeyUsage `json:"rotator"`
	Limiters []string           `json:"limiters"`
}

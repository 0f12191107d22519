package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shahidsiddiqui786/photoselect/archive"
	"github.com/shahidsiddiqui786/photoselect/config"
	"github.com/shahidsiddiqui786/photoselect/drive"
	"github.com/shahidsiddiqui786/photoselect/helper"
	"github.com/shahidsiddiqui786/photoselect/listing"
	"github.com/shahidsiddiqui786/photoselect/metrics"
	"github.com/shahidsiddiqui786/photoselect/ratelimit"
	"github.com/shahidsiddiqui786/photoselect/rotator"
)

const probeWorkers = 4

// statusClientClosedRequest marks requests abandoned by the client.
const statusClientClosedRequest = 499

type prober interface {
	Probe(ctx context.Context, apiKey string) (int, error)
}

type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	listing  *listing.Service
	archive  *archive.Builder
	prober   prober
	keys     *rotator.Rotator
	limiters *ratelimit.Registry
	metrics  *metrics.Registry
}

func newRouter(a *app) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), accessLog(a.logger, a.metrics))

	router.GET("/healthz", func(context *gin.Context) { context.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	admin := adminOnly(a.cfg.Server.AdminToken)
	api := router.Group("/api", ratelimit.Middleware(a.limiters.Get("general"), ratelimit.ClientIPKey))

	api.GET("/photos", a.getPhotos)
	api.DELETE("/photos/cache", admin, a.invalidatePhotos)
	api.POST("/archive", ratelimit.Middleware(a.limiters.Get("archive"), ratelimit.ClientIPKey), a.buildArchive)
	api.GET("/diagnostics/keys", admin,
		ratelimit.Middleware(a.limiters.Get("diagnostics"), ratelimit.ClientIPKey), a.keyDiagnostics)

	return router
}

/* Listing of one folder, served from cache when possible
 */
func (a *app) getPhotos(context *gin.Context) {
	folder, recursive, ok := folderQuery(context)
	if !ok {
		return
	}

	res, err := a.listing.Fetch(context.Request.Context(), folder, recursive)
	if err != nil {
		a.writeError(context, err)
		return
	}

	context.JSON(http.StatusOK, helper.ListingResponse{
		FolderID:  res.FolderID,
		Photos:    res.Photos,
		Count:     len(res.Photos),
		Cached:    res.Cached,
		FetchedAt: res.FetchedAt,
	})
}

func (a *app) invalidatePhotos(context *gin.Context) {
	folder, recursive, ok := folderQuery(context)
	if !ok {
		return
	}

	removed, err := a.listing.Invalidate(folder, recursive)
	if err != nil {
		a.writeError(context, err)
		return
	}

	folderID, _ := drive.ParseFolderRef(folder)
	context.JSON(http.StatusOK, helper.InvalidateResponse{
		FolderID:    folderID,
		Recursive:   recursive,
		Invalidated: removed,
	})
}

func folderQuery(context *gin.Context) (string, bool, bool) {
	folder := context.Query("folder")
	if folder == "" {
		context.JSON(http.StatusBadRequest, helper.ErrorResponse{Error: "folder is required"})
		return "", false, false
	}

	recursive := false
	if v := context.Query("recursive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			context.JSON(http.StatusBadRequest, helper.ErrorResponse{Error: "recursive must be a boolean"})
			return "", false, false
		}
		recursive = b
	}
	return folder, recursive, true
}

/* Zip of the requested objects. Partial failures still return an archive,
   with the counts in response headers.
*/
func (a *app) buildArchive(context *gin.Context) {
	var request helper.ArchiveRequest
	if err := context.ShouldBindJSON(&request); err != nil {
		context.JSON(http.StatusBadRequest, helper.ErrorResponse{Error: "invalid archive request: " + err.Error()})
		return
	}

	ids := helper.Filter(request.ObjectIDs, helper.NotBlank)
	ctx, cancel := contextWithTimeout(context, a.cfg.Archive.Timeout)
	defer cancel()

	res, err := a.archive.Build(ctx, archive.Request{
		ObjectIDs: ids,
		NameHints: request.NameMap,
		Label:     request.Label,
	})
	if errors.Is(err, archive.ErrNothingArchived) {
		context.JSON(http.StatusBadGateway, helper.ErrorResponse{
			Error:     err.Error(),
			Succeeded: &res.Succeeded,
			Failed:    &res.Failed,
		})
		return
	}
	if err != nil {
		a.writeError(context, err)
		return
	}

	context.Header("Content-Disposition", helper.Attachment(archive.FileName(request.Label)))
	context.Header("X-Archive-Job-ID", res.JobID)
	context.Header("X-Archive-Succeeded", strconv.Itoa(res.Succeeded))
	context.Header("X-Archive-Failed", strconv.Itoa(res.Failed))
	context.Data(http.StatusOK, "application/zip", res.Data)
}

func contextWithTimeout(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), d)
}

/* Live probe of every configured key plus the rotator's view of them
 */
func (a *app) keyDiagnostics(context *gin.Context) {
	ctx := context.Request.Context()

	probe := func(key string) helper.KeyDiagnostic {
		start := time.Now()
		status, err := a.prober.Probe(ctx, key)
		d := helper.KeyDiagnostic{
			Key:       rotator.MaskKey(key),
			Valid:     err == nil,
			Status:    status,
			LatencyMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			d.Error = err.Error()
		}
		return d
	}

	context.JSON(http.StatusOK, helper.DiagnosticsResponse{
		Keys:     helper.RunWorkers(probeWorkers, a.keys.Keys(), probe),
		Rotator:  a.keys.Stats(),
		Limiters: a.limiters.Names(),
	})
}

// writeError is the single place errors become status codes.
func (a *app) writeError(c *gin.Context, err error) {
	var capErr *archive.CapacityError
	status := http.StatusInternalServerError
	body := helper.ErrorResponse{Error: err.Error()}

	switch {
	case errors.Is(err, drive.ErrInvalidFolderRef):
		status = http.StatusBadRequest
	case errors.As(err, &capErr):
		status = http.StatusBadRequest
		body.Error = "at most " + strconv.Itoa(capErr.Max) + " objects per archive"
		body.MaxObjects = capErr.Max
	case errors.Is(err, archive.ErrEmptyRequest):
		status = http.StatusBadRequest
		body.MaxObjects = a.archive.MaxObjects()
	case errors.Is(err, drive.ErrRateLimited):
		status = http.StatusTooManyRequests
		body.Error = "upstream is rate limiting requests, try again shortly"
	case errors.Is(err, listing.ErrNoKeys):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		status = statusClientClosedRequest
		a.logger.Debug("client went away", "error", err, "request_id", c.GetString(requestIDKey))
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, drive.ErrUpstream):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "error", err, "request_id", c.GetString(requestIDKey))
	}
	c.JSON(status, body)
}

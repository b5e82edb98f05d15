package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"soraq/artifact"
	"soraq/config"
	"soraq/ledger"
	"soraq/pricing"
	"soraq/provider"
	"soraq/queue"
	"soraq/reference"
	"soraq/usage"
)

const referenceField = "referenceFile"

// Provider is the subset of the provider client the handlers call.
type Provider interface {
	Create(ctx context.Context, req provider.CreateRequest) (*provider.Video, error)
	Retrieve(ctx context.Context, apiKey, id string) (*provider.Video, error)
	List(ctx context.Context, apiKey string, limit int, after string) (*provider.VideoPage, error)
	Delete(ctx context.Context, apiKey, id string) (*provider.Deleted, error)
}

// Artifacts downloads variants and serves saved files.
type Artifacts interface {
	Fetch(ctx context.Context, apiKey, jobID string, v artifact.Variant) (*artifact.Artifact, error)
	FilePath(filename string) (string, error)
}

// Credentials is the locally stored provider key.
type Credentials interface {
	Credential() string
	SetCredential(key string) error
	ClearCredential() error
}

// Deps are the collaborators a Handler serves.
type Deps struct {
	Queue       *queue.Manager
	Provider    Provider
	Preparer    *reference.Preparer
	Ledger      *ledger.Book
	Credentials Credentials
	Artifacts   Artifacts
	Usage       *usage.Recorder
	Hub         *Hub
}

type Handler struct {
	cfg *config.Config
	Deps
}

func NewHandler(cfg *config.Config, d Deps) *Handler {
	if d.Preparer == nil {
		d.Preparer = reference.NewPreparer(cfg.MaxReferenceSize, cfg.JPEGQuality)
	}
	return &Handler{cfg: cfg, Deps: d}
}

// readReference returns the uploaded reference image, or nil when the
// request carries none.
func (h *Handler) readReference(c *gin.Context) ([]byte, string, error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		return nil, "", nil
	}
	fh, err := c.FormFile(referenceField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", nil
		}
		return nil, "", err
	}
	data, err := readUpload(fh, h.cfg.MaxReferenceSize)
	if err != nil {
		return nil, "", err
	}
	return data, fh.Filename, nil
}

func readUpload(fh *multipart.FileHeader, max int64) ([]byte, error) {
	if max > 0 && fh.Size > max {
		return nil, fmt.Errorf("%w: %s", reference.ErrTooLarge, fh.Filename)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return reference.ReadLimited(f, max)
}

func queueErrorStatus(err error) int {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrNotPending), errors.Is(err, queue.ErrNotInterrupted):
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

// writeProviderError mirrors the provider's status and message when it sent
// one, and reports 502 when it could not be reached.
func writeProviderError(c *gin.Context, err error) {
	var apiErr *provider.APIError
	switch {
	case errors.As(err, &apiErr):
		status := apiErr.StatusCode
		if status < 400 {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": apiErr.Error(), "code": apiErr.Code, "type": apiErr.Type})
	case errors.Is(err, provider.ErrInvalidCredential), errors.Is(err, provider.ErrMissingCredential),
		errors.Is(err, provider.ErrMissingFields):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, provider.ErrEmptyContent), errors.Is(err, artifact.ErrEmptyArtifact):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		slog.Error("provider request failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to reach the video provider", "details": err.Error()})
	}
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:3] + "..." + key[len(key)-4:]
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return n, nil
}

func (h *Handler) handleWS(c *gin.Context) {
	if h.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Live updates are disabled"})
		return
	}
	h.Hub.ServeWS(c, gin.H{"type": "snapshot", "items": h.Queue.List()})
}

// handleGetFile serves a saved video.
func (h *Handler) handleGetFile(c *gin.Context) {
	if h.Artifacts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": artifact.ErrFileNotFound.Error()})
		return
	}
	filePath, err := h.Artifacts.FilePath(c.Param("filename"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.File(filePath)
}

func (h *Handler) handlePricing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"markup": pricing.Markup, "rates": pricing.Display()})
}

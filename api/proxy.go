package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"soraq/artifact"
	"soraq/pricing"
	"soraq/provider"
	"soraq/reference"
	"soraq/usage"
)

// GenerateRequest is accepted as JSON or as multipart form fields alongside
// an optional referenceFile upload.
type GenerateRequest struct {
	APIKey           string `json:"apiKey" form:"apiKey"`
	Prompt           string `json:"prompt" form:"prompt"`
	Model            string `json:"model" form:"model"`
	Size             string `json:"size" form:"size"`
	Seconds          int    `json:"seconds" form:"seconds"`
	ReferenceVideoID string `json:"referenceVideoId" form:"referenceVideoId"`
}

func (r *GenerateRequest) applyDefaults() {
	if r.Model == "" {
		r.Model = string(pricing.TierSora2)
	}
	if r.Size == "" {
		r.Size = "1280x720"
	}
	if r.Seconds == 0 {
		r.Seconds = pricing.Durations[0]
	}
}

func (r *GenerateRequest) validate() error {
	if r.Prompt == "" {
		return fmt.Errorf("%w: prompt", provider.ErrMissingFields)
	}
	if !pricing.ValidTier(pricing.Tier(r.Model)) {
		return fmt.Errorf("unsupported model %q", r.Model)
	}
	if !pricing.ValidSize(r.Size) {
		return fmt.Errorf("unsupported size %q", r.Size)
	}
	if !pricing.ValidDuration(r.Seconds) {
		return fmt.Errorf("unsupported duration %d", r.Seconds)
	}
	return nil
}

type keyRequest struct {
	APIKey string `json:"apiKey" form:"apiKey"`
	Limit  int    `json:"limit" form:"limit"`
	After  string `json:"after" form:"after"`
}

func (h *Handler) bindKey(c *gin.Context) (keyRequest, bool) {
	var req keyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return req, false
		}
	}
	if err := provider.ValidateCredential(req.APIKey); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	return req, true
}

// handleGenerate submits one job directly, bypassing the local queue.
func (h *Handler) handleGenerate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := provider.ValidateCredential(req.APIKey); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.applyDefaults()
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref, refName, err := h.readReference(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	creq := provider.CreateRequest{
		APIKey:  req.APIKey,
		Prompt:  req.Prompt,
		Model:   req.Model,
		Size:    req.Size,
		Seconds: req.Seconds,
	}
	if ref != nil {
		if _, err := h.Preparer.Validate(ref); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		prepared, err := h.Preparer.Prepare(ref, req.Size)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		creq.Reference = prepared
		creq.ReferenceName = refName
		creq.ReferenceType = reference.OutputType
	}

	video, err := h.Provider.Create(c.Request.Context(), creq)
	if err != nil {
		writeProviderError(c, err)
		return
	}

	h.Usage.Record(c.Request.Context(), usage.Record{
		UserID:     sessionUser(c),
		JobID:      video.ID,
		Model:      req.Model,
		Resolution: req.Size,
		Seconds:    req.Seconds,
		Cost:       pricing.CostForSize(pricing.Tier(req.Model), req.Size, req.Seconds),
		Prompt:     req.Prompt,
	})
	c.JSON(http.StatusOK, gin.H{"videoId": video.ID, "status": video.Status})
}

// StatusResponse is the normalized job view returned by the status route.
// Progress is always present and defaults to 0.
type StatusResponse struct {
	ID       string               `json:"id"`
	Status   provider.Status      `json:"status"`
	Progress int                  `json:"progress"`
	Error    *provider.VideoError `json:"error,omitempty"`
}

func newStatusResponse(vs provider.VideoStatus) StatusResponse {
	resp := StatusResponse{ID: vs.ID, Status: vs.Status, Error: vs.Error}
	if vs.Progress != nil {
		resp.Progress = *vs.Progress
	}
	return resp
}

func (h *Handler) handleVideoStatus(c *gin.Context) {
	req, ok := h.bindKey(c)
	if !ok {
		return
	}
	video, err := h.Provider.Retrieve(c.Request.Context(), req.APIKey, c.Param("id"))
	if err != nil {
		writeProviderError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStatusResponse(video.StatusView()))
}

func (h *Handler) handleDeleteVideo(c *gin.Context) {
	req, ok := h.bindKey(c)
	if !ok {
		return
	}
	deleted, err := h.Provider.Delete(c.Request.Context(), req.APIKey, c.Param("id"))
	if err != nil {
		writeProviderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": deleted.ID, "deleted": true})
}

// handleDownload streams one variant of a finished job back to the caller.
func (h *Handler) handleDownload(c *gin.Context) {
	variant, err := artifact.ParseVariant(c.Query("variant"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, ok := h.bindKey(c)
	if !ok {
		return
	}
	a, err := h.Artifacts.Fetch(c.Request.Context(), req.APIKey, c.Param("id"), variant)
	if err != nil {
		writeProviderError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, a.Filename()))
	c.Data(http.StatusOK, a.ContentType, a.Data)
}

func (h *Handler) handleListVideos(c *gin.Context) {
	req, ok := h.bindKey(c)
	if !ok {
		return
	}
	page, err := h.Provider.List(c.Request.Context(), req.APIKey, req.Limit, req.After)
	if err != nil {
		writeProviderError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

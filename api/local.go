package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"soraq/pricing"
	"soraq/provider"
	"soraq/queue"
)

// EnqueueRequest adds one item to the local queue. Like GenerateRequest it
// may arrive as multipart with a referenceFile.
type EnqueueRequest struct {
	Prompt           string `json:"prompt" form:"prompt"`
	Model            string `json:"model" form:"model"`
	Size             string `json:"size" form:"size"`
	Seconds          int    `json:"seconds" form:"seconds"`
	ReferenceVideoID string `json:"referenceVideoId" form:"referenceVideoId"`
}

type MoveRequest struct {
	Direction queue.Direction `json:"direction" binding:"required"`
}

type CredentialRequest struct {
	APIKey string `json:"apiKey" binding:"required"`
}

func (h *Handler) handleGetCredential(c *gin.Context) {
	key := h.Credentials.Credential()
	if key == "" {
		c.JSON(http.StatusOK, gin.H{"configured": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"configured": true, "masked": maskKey(key)})
}

func (h *Handler) handleSetCredential(c *gin.Context) {
	var req CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := provider.ValidateCredential(req.APIKey); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Credentials.SetCredential(req.APIKey); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save API key", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"configured": true, "masked": maskKey(req.APIKey)})
}

func (h *Handler) handleClearCredential(c *gin.Context) {
	if err := h.Credentials.ClearCredential(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear API key", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"configured": false})
}

func (h *Handler) handleListQueue(c *gin.Context) {
	c.JSON(http.StatusOK, h.Queue.List())
}

func (h *Handler) handleEnqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ref, refName, err := h.readReference(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	it, err := h.Queue.Enqueue(queue.Request{
		Prompt:           req.Prompt,
		Model:            pricing.Tier(req.Model),
		Size:             req.Size,
		Seconds:          req.Seconds,
		Reference:        ref,
		ReferenceName:    refName,
		ReferenceVideoID: req.ReferenceVideoID,
		SessionUser:      sessionUser(c),
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, it)
}

func (h *Handler) handleMoveItem(c *gin.Context) {
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Direction != queue.Up && req.Direction != queue.Down {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be up or down"})
		return
	}
	if err := h.Queue.Reorder(c.Param("id"), req.Direction); err != nil {
		c.JSON(queueErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.Queue.List())
}

func (h *Handler) handleConfirmItem(c *gin.Context) {
	if err := h.Queue.Confirm(c.Param("id")); err != nil {
		c.JSON(queueErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	it, _ := h.Queue.Get(c.Param("id"))
	c.JSON(http.StatusOK, it)
}

func (h *Handler) handleRemoveItem(c *gin.Context) {
	if err := h.Queue.Remove(c.Param("id")); err != nil {
		c.JSON(queueErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Item removed"})
}

func (h *Handler) handleClearQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": h.Queue.ClearCompleted()})
}

// handleStatus reports the item being processed and its latest remote
// status.
func (h *Handler) handleStatus(c *gin.Context) {
	resp := gin.H{"processing": nil, "current": nil, "pending": 0}
	pending := 0
	for _, it := range h.Queue.List() {
		switch it.Status {
		case queue.StatusProcessing:
			it := it
			resp["processing"] = &it
		case queue.StatusPending:
			pending++
		}
	}
	resp["pending"] = pending
	if vs, ok := h.Queue.Current(); ok {
		resp["current"] = vs
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleGetUsage(c *gin.Context) {
	c.JSON(http.StatusOK, h.Ledger.Snapshot())
}

func (h *Handler) handleResetUsage(c *gin.Context) {
	if err := h.Ledger.Reset(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset usage", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.Ledger.Snapshot())
}

// handleUsageLog lists the signed-in user's logged submissions.
func (h *Handler) handleUsageLog(c *gin.Context) {
	if !h.Usage.Enabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": "Usage logging is disabled"})
		return
	}
	user := sessionUser(c)
	if user == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Sign in to view usage"})
		return
	}
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	recs, err := h.Usage.Recent(c.Request.Context(), user, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read usage", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (h *Handler) handleCost(c *gin.Context) {
	tier := pricing.Tier(c.DefaultQuery("model", string(pricing.TierSora2)))
	size := c.DefaultQuery("size", "1280x720")
	seconds, err := queryInt(c, "seconds", pricing.Durations[0])
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !pricing.ValidTier(tier) || !pricing.ValidSize(size) || !pricing.ValidDuration(seconds) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported model, size or duration"})
		return
	}
	class := pricing.ClassForSize(size)
	perSecond, _ := pricing.Rate(tier, class)
	c.JSON(http.StatusOK, gin.H{
		"model":      tier,
		"size":       size,
		"resolution": class,
		"seconds":    seconds,
		"perSecond":  perSecond,
		"cost":       pricing.Cost(tier, class, seconds),
	})
}

// handleHistory lists the account's finished jobs using the stored key.
func (h *Handler) handleHistory(c *gin.Context) {
	key := h.Credentials.Credential()
	if err := provider.ValidateCredential(key); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, err := h.Provider.List(c.Request.Context(), key, limit, c.Query("after"))
	if err != nil {
		writeProviderError(c, err)
		return
	}
	completed := make([]provider.Video, 0, len(page.Data))
	for _, v := range page.Data {
		if v.Status == provider.StatusCompleted {
			completed = append(completed, v)
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": completed, "has_more": page.HasMore, "last_id": page.LastID})
}

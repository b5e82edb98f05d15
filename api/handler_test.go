package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soraq/artifact"
	"soraq/config"
	"soraq/ledger"
	"soraq/provider"
	"soraq/queue"
)

type mockProvider struct {
	createFunc   func(ctx context.Context, req provider.CreateRequest) (*provider.Video, error)
	retrieveFunc func(ctx context.Context, apiKey, id string) (*provider.Video, error)
	listFunc     func(ctx context.Context, apiKey string, limit int, after string) (*provider.VideoPage, error)
	deleteFunc   func(ctx context.Context, apiKey, id string) (*provider.Deleted, error)
	downloadFunc func(ctx context.Context, apiKey, id, variant string) ([]byte, string, error)
	creates      atomic.Int32
}

func (m *mockProvider) Create(ctx context.Context, req provider.CreateRequest) (*provider.Video, error) {
	m.creates.Add(1)
	if m.createFunc != nil {
		return m.createFunc(ctx, req)
	}
	return &provider.Video{ID: "video_123", Status: provider.StatusQueued, Model: req.Model}, nil
}

func (m *mockProvider) Retrieve(ctx context.Context, apiKey, id string) (*provider.Video, error) {
	if m.retrieveFunc != nil {
		return m.retrieveFunc(ctx, apiKey, id)
	}
	return &provider.Video{ID: id, Status: provider.StatusInProgress}, nil
}

func (m *mockProvider) List(ctx context.Context, apiKey string, limit int, after string) (*provider.VideoPage, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, apiKey, limit, after)
	}
	return &provider.VideoPage{}, nil
}

func (m *mockProvider) Delete(ctx context.Context, apiKey, id string) (*provider.Deleted, error) {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, apiKey, id)
	}
	return &provider.Deleted{ID: id, Deleted: true}, nil
}

func (m *mockProvider) Download(ctx context.Context, apiKey, id, variant string) ([]byte, string, error) {
	if m.downloadFunc != nil {
		return m.downloadFunc(ctx, apiKey, id, variant)
	}
	return []byte("bytes"), "application/octet-stream", nil
}

type memCredentials struct{ key string }

func (m *memCredentials) Credential() string           { return m.key }
func (m *memCredentials) SetCredential(k string) error { m.key = k; return nil }
func (m *memCredentials) ClearCredential() error       { m.key = ""; return nil }

type testEnv struct {
	router *gin.Engine
	cfg    *config.Config
	prov   *mockProvider
	queue  *queue.Manager
	book   *ledger.Book
	creds  *memCredentials
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		PollInterval:     5 * time.Millisecond,
		MaxReferenceSize: 10 * 1024 * 1024,
		JPEGQuality:      95,
		ArtifactDir:      t.TempDir(),
		SessionHeader:    "X-Forwarded-User",
	}
	prov := &mockProvider{}
	creds := &memCredentials{}
	book := ledger.NewBook(0, nil)
	tm, err := queue.NewManager(cfg, prov, book, nil, creds.Credential)
	require.NoError(t, err)
	arts, err := artifact.NewRetriever(cfg, prov)
	require.NoError(t, err)

	h := NewHandler(cfg, Deps{
		Queue:       tm,
		Provider:    prov,
		Ledger:      book,
		Credentials: creds,
		Artifacts:   arts,
	})
	return &testEnv{router: SetupRouter(cfg, h), cfg: cfg, prov: prov, queue: tm, book: book, creds: creds}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req, _ = http.NewRequest(method, path, nil)
	} else {
		req, _ = http.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func multipartBody(t *testing.T, fields map[string]string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile(referenceField, "reference.pdf")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	env := setupTestRouter(t)
	w := env.do("GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleEnqueue(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("POST", "/api/v1/queue", `{"prompt": "a cat", "model": "sora-2", "size": "1280x720", "seconds": 8}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var it queue.Item
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &it))
	assert.Equal(t, queue.StatusPending, it.Status)
	assert.InDelta(t, 1.6, it.Cost, 1e-9)

	_, found := env.queue.Get(it.ID)
	assert.True(t, found)

	w = env.do("POST", "/api/v1/queue", `{"prompt": "a cat", "model": "sora-2", "size": "1280x720", "seconds": 5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "unsupported duration")
}

func TestHandleEnqueue_SessionUser(t *testing.T) {
	env := setupTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/queue", strings.NewReader(`{"prompt": "p", "model": "sora-2", "size": "1280x720", "seconds": 4}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-User", "user-7")
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	items := env.queue.List()
	require.Len(t, items, 1)
	assert.Equal(t, "user-7", items[0].SessionUser)
}

func TestHandleEnqueue_RejectsReferenceType(t *testing.T) {
	env := setupTestRouter(t)

	body, ct := multipartBody(t, map[string]string{
		"prompt": "p", "model": "sora-2", "size": "1280x720", "seconds": "4",
	}, []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"))
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/queue", body)
	req.Header.Set("Content-Type", ct)
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "application/pdf")
	assert.Empty(t, env.queue.List())
}

func TestHandleQueueMutations(t *testing.T) {
	env := setupTestRouter(t)
	env.queue.Restore([]queue.Item{
		{ID: "a", Prompt: "a", Status: queue.StatusPending},
		{ID: "b", Prompt: "b", Status: queue.StatusPending},
		{ID: "done", Prompt: "done", Status: queue.StatusCompleted},
	})

	w := env.do("POST", "/api/v1/queue/b/move", `{"direction": "up"}`)
	require.Equal(t, http.StatusOK, w.Code)
	items := env.queue.List()
	assert.Equal(t, "b", items[0].ID)

	w = env.do("POST", "/api/v1/queue/b/move", `{"direction": "sideways"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("POST", "/api/v1/queue/missing/move", `{"direction": "up"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("DELETE", "/api/v1/queue/done", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do("POST", "/api/v1/queue/a/confirm", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do("DELETE", "/api/v1/queue/a", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do("POST", "/api/v1/queue/clear", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["removed"])

	items = env.queue.List()
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].ID)
}

func TestHandleStatus(t *testing.T) {
	env := setupTestRouter(t)
	env.queue.Restore([]queue.Item{
		{ID: "a", Prompt: "a", Status: queue.StatusPending},
		{ID: "b", Prompt: "b", Status: queue.StatusCompleted},
	})

	w := env.do("GET", "/api/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Nil(t, resp["processing"])
	assert.Nil(t, resp["current"])
	assert.Equal(t, float64(1), resp["pending"])
}

func TestHandleCredential(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("GET", "/api/v1/credential", "")
	assert.Equal(t, false, decode(t, w)["configured"])

	w = env.do("PUT", "/api/v1/credential", `{"apiKey": "not-a-key"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.creds.key)

	w = env.do("PUT", "/api/v1/credential", `{"apiKey": "sk-proj-abcdefgh1234"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sk-...1234", decode(t, w)["masked"])
	assert.Equal(t, "sk-proj-abcdefgh1234", env.creds.key)

	w = env.do("DELETE", "/api/v1/credential", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, env.creds.key)
}

func TestHandleGenerate(t *testing.T) {
	t.Run("forwards to the provider", func(t *testing.T) {
		env := setupTestRouter(t)
		var got provider.CreateRequest
		env.prov.createFunc = func(ctx context.Context, req provider.CreateRequest) (*provider.Video, error) {
			got = req
			return &provider.Video{ID: "video_9", Status: provider.StatusQueued}, nil
		}

		w := env.do("POST", "/api/generate", `{"apiKey": "sk-abc", "prompt": "a fox", "model": "sora-2-pro", "size": "1792x1024", "seconds": 12}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, map[string]any{"videoId": "video_9", "status": "queued"}, decode(t, w))
		assert.Equal(t, "sk-abc", got.APIKey)
		assert.Equal(t, "sora-2-pro", got.Model)
		assert.Equal(t, 12, got.Seconds)
		assert.Nil(t, got.Reference)
	})

	t.Run("missing credential", func(t *testing.T) {
		env := setupTestRouter(t)
		w := env.do("POST", "/api/generate", `{"prompt": "a fox"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Zero(t, env.prov.creates.Load())
	})

	t.Run("missing prompt", func(t *testing.T) {
		env := setupTestRouter(t)
		w := env.do("POST", "/api/generate", `{"apiKey": "sk-abc"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode(t, w)["error"], "missing required fields")
	})

	t.Run("unsupported reference type", func(t *testing.T) {
		env := setupTestRouter(t)
		body, ct := multipartBody(t, map[string]string{"apiKey": "sk-abc", "prompt": "p"}, []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"))
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/generate", body)
		req.Header.Set("Content-Type", ct)
		env.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode(t, w)["error"], "application/pdf")
		assert.Zero(t, env.prov.creates.Load())
	})

	t.Run("provider error is mirrored", func(t *testing.T) {
		env := setupTestRouter(t)
		env.prov.createFunc = func(ctx context.Context, req provider.CreateRequest) (*provider.Video, error) {
			return nil, &provider.APIError{StatusCode: http.StatusTooManyRequests, Code: "rate_limit_exceeded", Message: "Slow down"}
		}
		w := env.do("POST", "/api/generate", `{"apiKey": "sk-abc", "prompt": "p"}`)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		resp := decode(t, w)
		assert.Equal(t, "Slow down", resp["error"])
		assert.Equal(t, "rate_limit_exceeded", resp["code"])
	})
}

func TestHandleVideoProxy(t *testing.T) {
	env := setupTestRouter(t)
	env.prov.retrieveFunc = func(ctx context.Context, apiKey, id string) (*provider.Video, error) {
		p := 55
		return &provider.Video{ID: id, Status: provider.StatusInProgress, Progress: &p}, nil
	}

	w := env.do("POST", "/api/video/video_1", `{"apiKey": "sk-abc"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"id": "video_1", "status": "in_progress", "progress": float64(55)}, decode(t, w))

	env.prov.retrieveFunc = func(ctx context.Context, apiKey, id string) (*provider.Video, error) {
		return &provider.Video{ID: id, Status: provider.StatusQueued}, nil
	}
	w = env.do("POST", "/api/video/video_2", `{"apiKey": "sk-abc"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"id": "video_2", "status": "queued", "progress": float64(0)}, decode(t, w))

	env.prov.retrieveFunc = func(ctx context.Context, apiKey, id string) (*provider.Video, error) {
		return &provider.Video{ID: id, Status: provider.StatusFailed, Error: &provider.VideoError{Code: "moderation_blocked", Message: "blocked"}}, nil
	}
	w = env.do("POST", "/api/video/video_3", `{"apiKey": "sk-abc"}`)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(0), resp["progress"])
	assert.Equal(t, map[string]any{"code": "moderation_blocked", "message": "blocked"}, resp["error"])

	w = env.do("POST", "/api/video/video_1", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("DELETE", "/api/video/video_1", `{"apiKey": "sk-abc"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"id": "video_1", "deleted": true}, decode(t, w))
}

func TestHandleDownload(t *testing.T) {
	env := setupTestRouter(t)
	var gotVariant string
	env.prov.downloadFunc = func(ctx context.Context, apiKey, id, variant string) ([]byte, string, error) {
		gotVariant = variant
		return []byte("RIFFwebp"), "application/octet-stream", nil
	}

	w := env.do("POST", "/api/download/video_1?variant=thumbnail", `{"apiKey": "sk-abc"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "thumbnail", gotVariant)
	assert.Equal(t, "image/webp", w.Header().Get("Content-Type"))
	assert.Equal(t, "RIFFwebp", w.Body.String())

	w = env.do("POST", "/api/download/video_1?variant=poster", `{"apiKey": "sk-abc"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.prov.downloadFunc = func(ctx context.Context, apiKey, id, variant string) ([]byte, string, error) {
		return nil, "video/mp4", nil
	}
	w = env.do("POST", "/api/download/video_1", `{"apiKey": "sk-abc"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandleHistory(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("GET", "/api/v1/history", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.creds.key = "sk-abc"
	env.prov.listFunc = func(ctx context.Context, apiKey string, limit int, after string) (*provider.VideoPage, error) {
		assert.Equal(t, "sk-abc", apiKey)
		assert.Equal(t, 5, limit)
		return &provider.VideoPage{
			Data: []provider.Video{
				{ID: "v1", Status: provider.StatusCompleted},
				{ID: "v2", Status: provider.StatusFailed},
				{ID: "v3", Status: provider.StatusCompleted},
			},
			HasMore: true,
			LastID:  "v3",
		}, nil
	}

	w = env.do("GET", "/api/v1/history?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	data := resp["data"].([]any)
	assert.Len(t, data, 2)
	assert.Equal(t, true, resp["has_more"])
}

func TestHandleCostAndPricing(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("GET", "/api/v1/cost?model=sora-2-pro&size=1920x1080&seconds=8", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.InDelta(t, 8.0, resp["cost"], 1e-9)
	assert.Equal(t, "1080p", resp["resolution"])

	w = env.do("GET", "/api/v1/cost?seconds=5", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("GET", "/api/v1/pricing", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["rates"], 5)
}

func TestHandleUsage(t *testing.T) {
	env := setupTestRouter(t)
	_, err := env.book.Append("video_1", "a cat", 1.6)
	require.NoError(t, err)

	w := env.do("GET", "/api/v1/usage", "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap ledger.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.InDelta(t, 1.6, snap.Total, 1e-9)
	assert.Len(t, snap.History, 1)

	w = env.do("DELETE", "/api/v1/usage", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, env.book.Total())

	w = env.do("GET", "/api/v1/usage/log", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	env := setupTestRouter(t)
	env.cfg.AuthEnable = true
	env.cfg.AuthKey = "secret"

	w := env.do("GET", "/api/v1/queue", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/queue", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/v1/queue", nil)
	req.Header.Set("Authorization", "Bearer secret")
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// The pass-through routes carry the caller's own credential.
	w = env.do("POST", "/api/video/video_1", `{"apiKey": "sk-abc"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

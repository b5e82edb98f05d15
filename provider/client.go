package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/respjson"
)

var (
	ErrInvalidCredential = errors.New("invalid API key format")
	ErrMissingCredential = errors.New("API key required")
	ErrMissingFields     = errors.New("missing required fields")
	ErrEmptyContent      = errors.New("received empty content")
)

// ValidateCredential performs the superficial format check only; the
// provider is the authority on whether a key is valid.
func ValidateCredential(apiKey string) error {
	if apiKey == "" {
		return ErrMissingCredential
	}
	if !strings.HasPrefix(apiKey, "sk-") {
		return ErrInvalidCredential
	}
	return nil
}

// Client talks to the provider's video API through the OpenAI SDK. It holds
// no credential: every call forwards the caller's key.
type Client struct {
	videos openai.VideoService
}

// NewClient configures the SDK for baseURL. Retries are disabled so a
// failed submission is never silently repeated.
func NewClient(baseURL string, timeout time.Duration) *Client {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	sdk := openai.NewClient(opts...)
	return &Client{videos: sdk.Videos}
}

func (c *Client) Create(ctx context.Context, req CreateRequest) (*Video, error) {
	if req.Prompt == "" || req.Model == "" || req.Size == "" || req.Seconds <= 0 {
		return nil, ErrMissingFields
	}
	if err := ValidateCredential(req.APIKey); err != nil {
		return nil, err
	}

	params := openai.VideoNewParams{
		Prompt:  req.Prompt,
		Model:   openai.VideoModel(req.Model),
		Size:    openai.VideoSize(req.Size),
		Seconds: openai.VideoSeconds(strconv.Itoa(req.Seconds)),
	}
	if len(req.Reference) > 0 {
		name := req.ReferenceName
		if name == "" {
			name = "reference.jpg"
		}
		ctype := req.ReferenceType
		if ctype == "" {
			ctype = "image/jpeg"
		}
		params.InputReference = openai.File(bytes.NewReader(req.Reference), name, ctype)
	}

	v, err := c.videos.New(ctx, params, option.WithAPIKey(req.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create video: %w", wrapError(err))
	}
	out := fromSDK(v)
	return &out, nil
}

func (c *Client) Retrieve(ctx context.Context, apiKey, id string) (*Video, error) {
	if apiKey == "" {
		return nil, ErrMissingCredential
	}
	v, err := c.videos.Get(ctx, id, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("retrieve video %s: %w", id, wrapError(err))
	}
	out := fromSDK(v)
	return &out, nil
}

// Download returns the raw bytes of one variant of a finished job along with
// the Content-Type the provider reported.
func (c *Client) Download(ctx context.Context, apiKey, id, variant string) ([]byte, string, error) {
	if apiKey == "" {
		return nil, "", ErrMissingCredential
	}
	params := openai.VideoDownloadContentParams{
		Variant: openai.VideoDownloadContentParamsVariant(variant),
	}
	resp, err := c.videos.DownloadContent(ctx, id, params, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, "", fmt.Errorf("download %s/%s: %w", id, variant, wrapError(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read content %s/%s: %w", id, variant, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("download %s/%s: %w", id, variant, ErrEmptyContent)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) List(ctx context.Context, apiKey string, limit int, after string) (*VideoPage, error) {
	if apiKey == "" {
		return nil, ErrMissingCredential
	}
	if limit <= 0 {
		limit = 20
	}
	params := openai.VideoListParams{Limit: openai.Int(int64(limit))}
	if after != "" {
		params.After = openai.String(after)
	}
	page, err := c.videos.List(ctx, params, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", wrapError(err))
	}

	out := &VideoPage{Object: "list", LastID: page.LastID, HasMore: page.HasMore, Data: make([]Video, 0, len(page.Data))}
	for i := range page.Data {
		out.Data = append(out.Data, fromSDK(&page.Data[i]))
	}
	if len(out.Data) > 0 {
		out.FirstID = out.Data[0].ID
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, apiKey, id string) (*Deleted, error) {
	if apiKey == "" {
		return nil, ErrMissingCredential
	}
	d, err := c.videos.Delete(ctx, id, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("delete video %s: %w", id, wrapError(err))
	}
	return &Deleted{ID: d.ID, Object: string(d.Object), Deleted: d.Deleted}, nil
}

// fromSDK copies the fields the queue and proxy use. Progress and error are
// only set when the provider actually sent them.
func fromSDK(v *openai.Video) Video {
	out := Video{
		ID:          v.ID,
		Object:      string(v.Object),
		Model:       string(v.Model),
		Status:      Status(v.Status),
		Prompt:      v.Prompt,
		Size:        string(v.Size),
		Seconds:     string(v.Seconds),
		CreatedAt:   v.CreatedAt,
		CompletedAt: v.CompletedAt,
	}
	if v.JSON.Progress.Valid() {
		p := int(v.Progress)
		out.Progress = &p
	}
	if v.JSON.Error.Valid() {
		ve := &VideoError{
			Code:    v.Error.Code,
			Message: v.Error.Message,
			Type:    extraString(v.Error.JSON.ExtraFields, "type"),
		}
		if ve.Code != "" || ve.Message != "" || ve.Type != "" {
			out.Error = ve
		}
	}
	return out
}

func extraString(fields map[string]respjson.Field, key string) string {
	f, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(f.Raw()), &s); err != nil {
		return ""
	}
	return s
}

// wrapError converts SDK errors into *APIError so callers never depend on
// the SDK's types.
func wrapError(err error) error {
	var sdkErr *openai.Error
	if !errors.As(err, &sdkErr) {
		return err
	}
	return &APIError{
		StatusCode: sdkErr.StatusCode,
		Code:       sdkErr.Code,
		Type:       sdkErr.Type,
		Message:    sdkErr.Message,
	}
}

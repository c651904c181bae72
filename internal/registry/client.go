package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/lgulliver/photoflow/pkg/types"
	"github.com/rs/zerolog/log"
)

const (
	UserAgent  = "photoflow upload client"
	photosPath = "/api/photos"
)

// Client is the full photo registry API
type Client interface {
	BulkRegister(ctx context.Context, photos []types.RegisterRequest) ([]types.RegistrationResult, error)
	GetByID(ctx context.Context, id string) (*types.Photo, error)
	List(ctx context.Context, query types.ListPhotosQuery) ([]types.Photo, error)
	ListCompleted(ctx context.Context) ([]types.Photo, error)
	UpdateStatus(ctx context.Context, id string, req types.PhotoStatusUpdateRequest) error
	BulkUpdateStatus(ctx context.Context, req types.BulkStatusUpdateRequest) error
	Delete(ctx context.Context, id string) error
	BulkDelete(ctx context.Context, req types.BulkDeleteRequest) (*types.BulkDeleteResponse, error)
}

// HTTPClient talks to the registry's REST API
type HTTPClient struct {
	rc           *resty.Client
	buildBackoff func() backoff.BackOff
}

// Option customises an HTTPClient
type Option func(*HTTPClient)

// WithBackoff replaces the backoff used for idempotent reads
func WithBackoff(factory func() backoff.BackOff) Option {
	return func(c *HTTPClient) { c.buildBackoff = factory }
}

// WithHTTPClient swaps the underlying net/http client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		timeout := c.rc.GetClient().Timeout
		c.rc = resty.NewWithClient(hc).
			SetBaseURL(c.rc.BaseURL).
			SetTimeout(timeout)
		setDefaultHeaders(c.rc)
	}
}

// NewHTTPClient creates a client rooted at baseURL
func NewHTTPClient(baseURL string, timeout time.Duration, opts ...Option) *HTTPClient {
	rc := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout)
	setDefaultHeaders(rc)

	c := &HTTPClient{
		rc: rc,
		buildBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxElapsedTime = 3 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func setDefaultHeaders(rc *resty.Client) {
	rc.SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", UserAgent)
}

// BulkRegister registers every stored asset in one call. Per-item failures
// come back as results; only transport and HTTP errors are returned as err.
func (c *HTTPClient) BulkRegister(ctx context.Context, photos []types.RegisterRequest) ([]types.RegistrationResult, error) {
	return call[[]types.RegistrationResult](ctx, c, resty.MethodPost, photosPath+"/bulk", types.BulkRegisterRequest{Photos: photos}, nil)
}

// GetByID fetches one photo
func (c *HTTPClient) GetByID(ctx context.Context, id string) (*types.Photo, error) {
	var photo *types.Photo
	err := c.retry(ctx, func() error {
		var err error
		photo, err = call[*types.Photo](ctx, c, resty.MethodGet, photoPath(id), nil, nil)
		return err
	})
	return photo, err
}

// List fetches photos, optionally filtered by status and paged
func (c *HTTPClient) List(ctx context.Context, query types.ListPhotosQuery) ([]types.Photo, error) {
	params := map[string]string{}
	if query.Status != "" {
		params["status"] = string(query.Status)
	}
	if query.Page != nil {
		params["page"] = strconv.Itoa(*query.Page)
	}
	if query.Size != nil {
		params["size"] = strconv.Itoa(*query.Size)
	}

	var photos []types.Photo
	err := c.retry(ctx, func() error {
		var err error
		photos, err = call[[]types.Photo](ctx, c, resty.MethodGet, photosPath, nil, params)
		return err
	})
	return photos, err
}

// ListCompleted fetches photos whose processing has completed
func (c *HTTPClient) ListCompleted(ctx context.Context) ([]types.Photo, error) {
	var photos []types.Photo
	err := c.retry(ctx, func() error {
		var err error
		photos, err = call[[]types.Photo](ctx, c, resty.MethodGet, photosPath+"/completed", nil, nil)
		return err
	})
	return photos, err
}

// UpdateStatus changes the status of one photo
func (c *HTTPClient) UpdateStatus(ctx context.Context, id string, req types.PhotoStatusUpdateRequest) error {
	if !req.Status.Valid() {
		return fmt.Errorf("%w: invalid status %q", ErrRejected, req.Status)
	}
	_, err := call[json.RawMessage](ctx, c, resty.MethodPatch, photoPath(id)+"/status", req, nil)
	return err
}

// BulkUpdateStatus changes the status of several photos
func (c *HTTPClient) BulkUpdateStatus(ctx context.Context, req types.BulkStatusUpdateRequest) error {
	if !req.Status.Valid() {
		return fmt.Errorf("%w: invalid status %q", ErrRejected, req.Status)
	}
	if len(req.PhotoIDs) == 0 {
		return nil
	}
	_, err := call[json.RawMessage](ctx, c, resty.MethodPatch, photosPath+"/bulk/status", req, nil)
	return err
}

// Delete removes one photo
func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	_, err := call[json.RawMessage](ctx, c, resty.MethodDelete, photoPath(id), nil, nil)
	return err
}

// BulkDelete removes photos by id or by mode
func (c *HTTPClient) BulkDelete(ctx context.Context, req types.BulkDeleteRequest) (*types.BulkDeleteResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return call[*types.BulkDeleteResponse](ctx, c, resty.MethodDelete, photosPath+"/bulk", req, nil)
}

// retry re-runs fn while the registry is unavailable
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	b := backoff.WithContext(c.buildBackoff(), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// call executes one request and unwraps the response envelope
func call[T any](ctx context.Context, c *HTTPClient, method, path string, body any, query map[string]string) (T, error) {
	var zero T

	r := c.rc.R().SetContext(ctx)
	if body != nil {
		r.SetBody(body)
	}
	if len(query) > 0 {
		r.SetQueryParams(query)
	}

	res, err := r.Execute(method, path)
	if err != nil {
		log.Warn().Err(err).Str("method", method).Str("path", path).Msg("registry request failed")
		return zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if res.IsError() {
		apiErr := &Error{StatusCode: res.StatusCode(), Status: res.Status()}
		var env types.APIResponse[json.RawMessage]
		if json.Unmarshal(res.Body(), &env) == nil {
			apiErr.Message = env.Message
		}
		log.Warn().
			Int("status", res.StatusCode()).
			Str("method", method).
			Str("path", path).
			Str("message", apiErr.Message).
			Msg("registry returned error")
		return zero, apiErr
	}

	if len(res.Body()) == 0 {
		return zero, nil
	}

	var env types.APIResponse[T]
	if err := json.Unmarshal(res.Body(), &env); err != nil {
		return zero, fmt.Errorf("failed to decode registry response: %w", err)
	}
	return env.Data, nil
}

var _ Client = (*HTTPClient)(nil)

// photoPath escapes id so it always addresses a single photo
func photoPath(id string) string {
	return photosPath + "/" + url.PathEscape(id)
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/lgulliver/photoflow/pkg/types"
	"github.com/rs/zerolog/log"
)

// HTTPStorage uploads to a Cloudinary-compatible unsigned upload endpoint
type HTTPStorage struct {
	uploadURL    string
	uploadPreset string
	apiKey       string
	client       *http.Client
}

// HTTPStorageOptions configures an HTTPStorage
type HTTPStorageOptions struct {
	// Endpoint is the API root, e.g. https://api.cloudinary.com/v1_1
	Endpoint     string
	CloudName    string
	UploadPreset string
	APIKey       string
	Timeout      time.Duration
	Client       *http.Client
}

// NewHTTPStorage builds the upload URL as <endpoint>/<cloud>/image/upload
func NewHTTPStorage(opts HTTPStorageOptions) (*HTTPStorage, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("http storage requires an endpoint")
	}

	uploadURL := strings.TrimSuffix(opts.Endpoint, "/")
	if opts.CloudName != "" {
		uploadURL += "/" + opts.CloudName
	}
	uploadURL += "/image/upload"

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 2 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPStorage{
		uploadURL:    uploadURL,
		uploadPreset: opts.UploadPreset,
		apiKey:       opts.APIKey,
		client:       client,
	}, nil
}

type httpErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload posts the file as multipart form data
func (s *HTTPStorage) Upload(ctx context.Context, file File, params UploadParams) (*types.StoredAsset, error) {
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open source: %v", ErrUploadFailed, err)
	}

	body, contentType := s.multipartBody(src, file, params)
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.uploadURL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("Upload failed: %s", resp.Status)
		var errBody httpErrorBody
		if json.NewDecoder(resp.Body).Decode(&errBody) == nil && errBody.Error.Message != "" {
			msg = errBody.Error.Message
		}
		log.Warn().Int("status", resp.StatusCode).Str("asset", params.AssetName).Str("error", msg).Msg("storage rejected upload")
		return nil, fmt.Errorf("%w: %s", ErrUploadFailed, msg)
	}

	var asset types.StoredAsset
	if err := json.NewDecoder(resp.Body).Decode(&asset); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrUploadFailed, err)
	}
	if asset.PublicID == "" {
		return nil, fmt.Errorf("%w: response has no public_id", ErrUploadFailed)
	}
	if asset.SecureURL == "" {
		asset.SecureURL = asset.URL
	}
	return &asset, nil
}

// multipartBody streams the form through a pipe so the file is never
// buffered in full. The writer goroutine owns src and closes it when done.
func (s *HTTPStorage) multipartBody(src io.ReadCloser, file File, params UploadParams) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer src.Close()
		err := func() error {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(file.Name())))
			h.Set("Content-Type", file.ContentType())
			part, err := mw.CreatePart(h)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, src); err != nil {
				return err
			}

			fields := map[string]string{
				"folder":    params.Folder,
				"public_id": params.AssetName,
			}
			if s.uploadPreset != "" {
				fields["upload_preset"] = s.uploadPreset
			} else if s.apiKey != "" {
				fields["api_key"] = s.apiKey
			}
			for k, v := range fields {
				if v == "" {
					continue
				}
				if err := mw.WriteField(k, v); err != nil {
					return err
				}
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

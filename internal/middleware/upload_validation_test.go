package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type stubState struct {
	uploading bool
}

func (s stubState) IsUploading() bool { return s.uploading }
func (s stubState) SessionID() string { return "session-1" }

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusAccepted) })
	router.POST("/uploads", handlers...)
	return router
}

func TestSessionGate(t *testing.T) {
	tests := []struct {
		name      string
		uploading bool
		want      int
	}{
		{"idle", false, http.StatusAccepted},
		{"busy", true, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(SessionGate(stubState{uploading: tt.uploading}))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/uploads", nil))
			assert.Equal(t, tt.want, rec.Code)
			if tt.uploading {
				assert.Contains(t, rec.Body.String(), "session-1")
			}
		})
	}
}

func TestRequireMultipart(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        int
	}{
		{"multipart", "multipart/form-data; boundary=abc", http.StatusAccepted},
		{"json", "application/json", http.StatusUnsupportedMediaType},
		{"missing", "", http.StatusUnsupportedMediaType},
		{"garbage", ";;;", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(RequireMultipart())
			req := httptest.NewRequest(http.MethodPost, "/uploads", strings.NewReader("x"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

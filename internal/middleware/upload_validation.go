package middleware

import (
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// SessionState reports whether an upload session is running
type SessionState interface {
	IsUploading() bool
	SessionID() string
}

// SessionGate rejects new uploads while a session is running, before the
// request body is read
func SessionGate(state SessionState) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !state.IsUploading() {
			c.Next()
			return
		}

		log.Warn().
			Str("session_id", state.SessionID()).
			Str("path", c.Request.URL.Path).
			Msg("upload rejected while a session is running")
		c.JSON(http.StatusConflict, gin.H{
			"error":     "An upload session is already in progress",
			"sessionId": state.SessionID(),
		})
		c.Abort()
	}
}

// RequireMultipart only lets multipart/form-data requests through
func RequireMultipart() gin.HandlerFunc {
	return func(c *gin.Context) {
		mediaType, _, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			log.Debug().
				Str("content_type", c.GetHeader("Content-Type")).
				Msg("rejecting non-multipart upload")
			c.JSON(http.StatusUnsupportedMediaType, gin.H{
				"error": "Expected multipart/form-data",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

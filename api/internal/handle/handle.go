package handle

import (
	"embed"
	"errors"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"homework-grader/api/internal/controller"
	"homework-grader/api/internal/grading"
	"homework-grader/api/internal/logger"
	"homework-grader/api/internal/session"
	"homework-grader/api/internal/util"
)

const (
	sessionCookie = "hw_session"
	formField     = "image"
)

//go:embed templates/*.html
var templateFS embed.FS

type Handle struct {
	engs      *grading.Engines
	def       grading.Engine
	sessions  *session.Store
	maxUpload int64
}

func New(engs *grading.Engines, def grading.Engine, sessions *session.Store, maxUpload int64) *Handle {
	return &Handle{
		engs:      engs,
		def:       def,
		sessions:  sessions,
		maxUpload: maxUpload,
	}
}

// Router wires the page, the session API and the stateless grading endpoint.
func (h *Handle) Router() *gin.Engine {
	r := gin.New()
	r.SetHTMLTemplate(template.Must(template.New("").ParseFS(templateFS, "templates/*.html")))

	// base64 JSON bodies are ~4/3 of the image, plus multipart framing
	r.Use(
		gin.Recovery(),
		requestLogger(),
		requestSizeLimiter(2*h.maxUpload),
		errorHandler(),
	)

	r.GET("/healthz", healthCheck)
	r.GET("/", h.Page)
	r.POST("/submit", h.SubmitForm)
	r.POST("/reset", h.ResetForm)

	api := r.Group("/api")
	api.GET("/state", h.APIState)
	api.POST("/submit", h.APISubmit)
	api.POST("/reset", h.APIReset)

	r.POST("/v1/grade", h.Grade)
	return r
}

// controller returns the caller's session, issuing a cookie on first visit.
func (h *Handle) controller(c *gin.Context) *controller.Controller {
	id, err := c.Cookie(sessionCookie)
	if err != nil || !session.ValidID(id) {
		id = session.NewID()
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(sessionCookie, id, 0, "/", "", false, true)
	}
	return h.sessions.Get(session.WebKey(id))
}

// readUpload takes the "image" multipart file; it never exceeds maxUpload.
func (h *Handle) readUpload(c *gin.Context) ([]byte, string, error) {
	fh, err := c.FormFile(formField)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, "", NewTooLargeError("upload too large", err)
		}
		return nil, "", NewValidationError("missing image file", err)
	}
	return h.readFile(fh)
}

func (h *Handle) readFile(fh *multipart.FileHeader) ([]byte, string, error) {
	if fh.Size > h.maxUpload {
		return nil, "", NewTooLargeError("image too large", nil)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", NewValidationError("unreadable image file", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		return nil, "", NewValidationError("unreadable image file", err)
	}
	if int64(len(data)) > h.maxUpload {
		return nil, "", NewTooLargeError("image too large", nil)
	}
	if len(data) == 0 {
		return nil, "", NewValidationError("empty image", nil)
	}
	return data, util.PickMIME(fh.Header.Get("Content-Type"), "", data), nil
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"elapsed_ms": time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
		}).Info("request")
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last().Err
			respondError(c, err)
		}
	}
}

func respondError(c *gin.Context, err error) {
	code := GetStatusCode(err)
	resp := ErrorResponse{Error: http.StatusText(code)}
	var appErr *AppError
	if errors.As(err, &appErr) {
		resp.Kind = appErr.Kind
		resp.Message = appErr.Message
	}

	entry := logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
	})
	if code >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}

	c.AbortWithStatusJSON(code, resp)
}

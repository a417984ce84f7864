package handle

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"homework-grader/api/internal/controller"
	"homework-grader/api/internal/grading"
	"homework-grader/api/internal/grading/types"
	"homework-grader/api/internal/logger"
	"homework-grader/api/internal/util"
)

type StateResponse struct {
	Phase   string               `json:"phase"`
	Image   string               `json:"image,omitempty"` // data URL
	Result  *types.GradingResult `json:"result,omitempty"`
	Band    string               `json:"band,omitempty"`
	Passing *bool                `json:"passing,omitempty"`
}

func newStateResponse(st controller.State) StateResponse {
	out := StateResponse{Phase: st.Phase().String()}
	if img, mime, ok := st.Image(); ok {
		out.Image = util.DataURL(mime, img)
	}
	if r, ok := st.Result(); ok {
		passing := r.Passing()
		out.Result = &r
		out.Band = r.Band()
		out.Passing = &passing
	}
	return out
}

func (h *Handle) APIState(c *gin.Context) {
	c.JSON(http.StatusOK, newStateResponse(h.controller(c).State()))
}

// APISubmit accepts a multipart "image" and answers 202 with the Analyzing state.
func (h *Handle) APISubmit(c *gin.Context) {
	ctl := h.controller(c)
	img, mime, err := h.readUpload(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := ctl.SubmitImage(img, mime); err != nil {
		_ = c.Error(FromSubmitError(err))
		return
	}
	c.JSON(http.StatusAccepted, newStateResponse(ctl.State()))
}

func (h *Handle) APIReset(c *gin.Context) {
	ctl := h.controller(c)
	ctl.Reset()
	c.JSON(http.StatusOK, newStateResponse(ctl.State()))
}

type GradeRequest struct {
	LLMName  string `json:"llm_name"`
	ImageB64 string `json:"image_b64"`
}

type GradeResponse struct {
	Engine string `json:"engine"`
	Model  string `json:"model"`
	Band   string `json:"band"`
	types.GradingResult
}

// Grade is the stateless endpoint: one image in, one result out. The body is
// JSON {image_b64, llm_name} or multipart with an "image" file.
func (h *Handle) Grade(c *gin.Context) {
	var (
		req  GradeRequest
		img  []byte
		err  error
		name string
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		img, _, err = h.readUpload(c)
		name = c.PostForm("llm_name")
	} else {
		if err = c.ShouldBindJSON(&req); err != nil {
			err = NewValidationError("bad json", err)
		} else {
			img, _, err = util.DecodeBase64MaybeDataURL(req.ImageB64)
			if err != nil || len(img) == 0 {
				err = NewValidationError("bad image_b64", err)
			} else if int64(len(img)) > h.maxUpload {
				err = NewTooLargeError("image too large", nil)
			}
		}
		name = req.LLMName
	}
	if err != nil {
		_ = c.Error(err)
		return
	}

	engine := h.def
	if strings.TrimSpace(name) != "" {
		if engine, err = h.engs.GetEngine(name); err != nil {
			_ = c.Error(FromGradingError(err))
			return
		}
	}
	if engine == nil {
		_ = c.Error(FromGradingError(grading.ErrUnknownEngine))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout(c))
	defer cancel()

	start := time.Now()
	res, err := engine.Grade(ctx, img)
	if err != nil {
		_ = c.Error(FromGradingError(err))
		return
	}
	logger.WithFields(logrus.Fields{
		"engine":     engine.Name(),
		"score":      res.OverallScore,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Info("stateless grade done")

	c.JSON(http.StatusOK, GradeResponse{
		Engine:        engine.Name(),
		Model:         engine.GetModel(),
		Band:          res.Band(),
		GradingResult: res,
	})
}

// requestTimeout honours X-Request-Timeout or ?timeoutSec (seconds).
func requestTimeout(c *gin.Context) time.Duration {
	deadline := 180 * time.Second
	if ts := c.GetHeader("X-Request-Timeout"); ts != "" {
		if v, _ := strconv.Atoi(ts); v > 0 {
			deadline = time.Duration(v) * time.Second
		}
	} else if ts := c.Query("timeoutSec"); ts != "" {
		if v, _ := strconv.Atoi(ts); v > 0 {
			deadline = time.Duration(v) * time.Second
		}
	}
	return deadline
}

package handle

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"homework-grader/api/internal/controller"
	"homework-grader/api/internal/grading/types"
	"homework-grader/api/internal/util"
)

// pageView feeds templates/index.html.
type pageView struct {
	Phase    string
	ImageURL template.URL
	Result   *resultView
}

type resultView struct {
	Subject      string
	Score        int
	Band         string
	Passing      bool
	Summary      string
	Corrections  []types.CorrectionItem
	CorrectCount int
}

func newPageView(st controller.State) pageView {
	v := pageView{Phase: st.Phase().String()}
	if img, mime, ok := st.Image(); ok {
		// mime is always an image/* media type picked by util.PickMIME
		v.ImageURL = template.URL(util.DataURL(mime, img))
	}
	if r, ok := st.Result(); ok {
		v.Result = &resultView{
			Subject:      r.Subject,
			Score:        r.OverallScore,
			Band:         r.Band(),
			Passing:      r.Passing(),
			Summary:      r.Summary,
			Corrections:  r.Corrections,
			CorrectCount: r.CorrectCount(),
		}
	}
	return v
}

// Page renders the single page for whatever state the session is in.
func (h *Handle) Page(c *gin.Context) {
	st := h.controller(c).State()
	c.Header("Cache-Control", "no-store")
	c.HTML(http.StatusOK, "index.html", newPageView(st))
}

// SubmitForm is the upload target of the idle page. Busy and not-idle
// sessions are sent back to the page, which shows their current state.
func (h *Handle) SubmitForm(c *gin.Context) {
	ctl := h.controller(c)
	img, mime, err := h.readUpload(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := ctl.SubmitImage(img, mime); err != nil {
		appErr := FromSubmitError(err)
		if appErr.StatusCode != http.StatusConflict {
			_ = c.Error(appErr)
			return
		}
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handle) ResetForm(c *gin.Context) {
	h.controller(c).Reset()
	c.Redirect(http.StatusSeeOther, "/")
}

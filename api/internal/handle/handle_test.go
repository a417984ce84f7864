package handle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"homework-grader/api/internal/controller"
	"homework-grader/api/internal/grading"
	"homework-grader/api/internal/grading/types"
	"homework-grader/api/internal/logger"
	"homework-grader/api/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
	logger.SetOutput(io.Discard)
}

var jpeg = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

type fakeEngine struct {
	result  types.GradingResult
	err     error
	release chan struct{}
	block   bool // wait for ctx
}

func (f *fakeEngine) Name() string     { return "fake" }
func (f *fakeEngine) GetModel() string { return "fake-1" }
func (f *fakeEngine) Grade(ctx context.Context, image []byte) (types.GradingResult, error) {
	if f.block {
		<-ctx.Done()
		return types.GradingResult{}, &types.TransportError{Engine: "fake", Err: ctx.Err()}
	}
	if f.release != nil {
		<-f.release
	}
	return f.result, f.err
}

type fixture struct {
	t      *testing.T
	router *gin.Engine
	store  *session.Store
	cookie *http.Cookie
}

func newFixture(t *testing.T, eng grading.Engine) *fixture {
	t.Helper()
	store := session.NewStore(func(key string) *controller.Controller {
		return controller.New(eng, controller.WithName(key))
	}, time.Hour)
	h := New(&grading.Engines{Gemini: eng}, eng, store, 1024)
	return &fixture{t: t, router: h.Router(), store: store}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	f.t.Helper()
	if f.cookie != nil {
		req.AddCookie(f.cookie)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookie {
			f.cookie = c
		}
	}
	return w
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	return f.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (f *fixture) post(path string) *httptest.ResponseRecorder {
	return f.do(httptest.NewRequest(http.MethodPost, path, nil))
}

func (f *fixture) upload(path string, data []byte) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(formField, "page.jpg")
	if err != nil {
		f.t.Fatal(err)
	}
	_, _ = fw.Write(data)
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return f.do(req)
}

func (f *fixture) wait() controller.State {
	f.t.Helper()
	ctl, ok := f.store.Lookup(session.WebKey(f.cookie.Value))
	if !ok {
		f.t.Fatalf("no session for cookie")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := ctl.Wait(ctx)
	if err != nil {
		f.t.Fatalf("Wait: %v", err)
	}
	return st
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) StateResponse {
	t.Helper()
	var s StateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return s
}

func sampleResult() types.GradingResult {
	return types.GradingResult{
		Subject:      "Math",
		OverallScore: 85,
		Summary:      "Nice work",
		Corrections: []types.CorrectionItem{
			{QuestionIndex: "1", IsCorrect: true, StudentAnswer: "4", CorrectAnswer: "4", Explanation: "ok"},
			{QuestionIndex: "2", IsCorrect: false, StudentAnswer: "7", CorrectAnswer: "8", Explanation: "3+5=8"},
		},
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, &fakeEngine{})
	if w := f.get("/healthz"); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestPage_IdleIssuesCookie(t *testing.T) {
	f := newFixture(t, &fakeEngine{})
	w := f.get("/")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if f.cookie == nil || !session.ValidID(f.cookie.Value) {
		t.Fatalf("session cookie not issued")
	}
	body := w.Body.String()
	for _, want := range []string{"AI 作业批改神器", "拍照批改", `capture="environment"`} {
		if !strings.Contains(body, want) {
			t.Errorf("idle page missing %q", want)
		}
	}
	if f.store.Len() != 1 {
		t.Fatalf("store len = %d", f.store.Len())
	}
}

func TestAPI_FullCycle(t *testing.T) {
	eng := &fakeEngine{result: sampleResult(), release: make(chan struct{})}
	f := newFixture(t, eng)

	w := f.upload("/api/submit", jpeg)
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d body=%s", w.Code, w.Body.String())
	}
	if s := decodeState(t, w); s.Phase != "analyzing" || !strings.HasPrefix(s.Image, "data:image/jpeg;base64,") {
		t.Fatalf("unexpected state %+v", s)
	}

	w = f.upload("/api/submit", jpeg)
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), `"kind":"busy"`) {
		t.Fatalf("second submit: %d %s", w.Code, w.Body.String())
	}

	close(eng.release)
	if st := f.wait(); st.Phase() != controller.PhaseResult {
		t.Fatalf("phase = %v", st.Phase())
	}

	s := decodeState(t, f.get("/api/state"))
	if s.Phase != "result" || s.Result == nil || s.Result.OverallScore != 85 || s.Band != types.BandHigh {
		t.Fatalf("unexpected result state %+v", s)
	}
	if s.Passing == nil || !*s.Passing {
		t.Fatalf("passing flag missing")
	}

	w = f.upload("/api/submit", jpeg)
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), `"kind":"not_idle"`) {
		t.Fatalf("submit from result: %d %s", w.Code, w.Body.String())
	}

	s = decodeState(t, f.post("/api/reset"))
	if s.Phase != "idle" || s.Image != "" || s.Result != nil {
		t.Fatalf("reset state %+v", s)
	}
}

func TestAPI_SubmitMissingFile(t *testing.T) {
	f := newFixture(t, &fakeEngine{})
	req := httptest.NewRequest(http.MethodPost, "/api/submit", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	w := f.do(req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAPI_SubmitIgnoresDeclaredNonImageType(t *testing.T) {
	eng := &fakeEngine{result: sampleResult(), release: make(chan struct{})}
	f := newFixture(t, eng)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="image"; filename="page.jpg"`)
	hdr.Set("Content-Type", "text/html")
	fw, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(jpeg)
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/submit", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w := f.do(req)
	close(eng.release)
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d body=%s", w.Code, w.Body.String())
	}
	if s := decodeState(t, w); !strings.HasPrefix(s.Image, "data:image/jpeg;base64,") {
		t.Fatalf("image = %.40q", s.Image)
	}
	f.wait()
}

func TestForm_SubmitAndResultPage(t *testing.T) {
	f := newFixture(t, &fakeEngine{result: sampleResult()})

	w := f.upload("/submit", jpeg)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/" {
		t.Fatalf("submit: %d %q", w.Code, w.Header().Get("Location"))
	}
	f.wait()

	body := f.get("/").Body.String()
	for _, want := range []string{"本次得分", "85", "合格", "批改详情", "题目 2", "正确: 8", "批改下一份", "band-high"} {
		if !strings.Contains(body, want) {
			t.Errorf("result page missing %q", want)
		}
	}
	if strings.Contains(body, "未检测到具体的题目") {
		t.Errorf("empty-corrections notice shown with corrections present")
	}

	w = f.post("/reset")
	if w.Code != http.StatusSeeOther {
		t.Fatalf("reset status = %d", w.Code)
	}
	if body := f.get("/").Body.String(); !strings.Contains(body, "拍照批改") {
		t.Fatalf("expected idle page after reset")
	}
}

func TestForm_EmptyCorrectionsAndLowScore(t *testing.T) {
	f := newFixture(t, &fakeEngine{result: types.GradingResult{Subject: "English", OverallScore: 40, Summary: "Practice more", Corrections: []types.CorrectionItem{}}})
	f.upload("/submit", jpeg)
	f.wait()

	body := f.get("/").Body.String()
	for _, want := range []string{"需努力", "band-low", "未检测到具体的题目，请参考总评。", "0题"} {
		if !strings.Contains(body, want) {
			t.Errorf("result page missing %q", want)
		}
	}
}

func TestForm_ErrorPage(t *testing.T) {
	f := newFixture(t, &fakeEngine{err: &types.DecodeError{Err: io.ErrUnexpectedEOF}})
	f.upload("/submit", jpeg)
	if st := f.wait(); st.Phase() != controller.PhaseError {
		t.Fatalf("phase = %v", st.Phase())
	}
	body := f.get("/").Body.String()
	for _, want := range []string{"批改失败", "抱歉，未能识别图片内容", "重新拍摄"} {
		if !strings.Contains(body, want) {
			t.Errorf("error page missing %q", want)
		}
	}
	// a second upload without reset just redirects back to the error page
	if w := f.upload("/submit", jpeg); w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", w.Code)
	}
	if s := decodeState(t, f.get("/api/state")); s.Phase != "error" {
		t.Fatalf("phase = %s", s.Phase)
	}
}

func TestAnalyzingPageRefreshes(t *testing.T) {
	eng := &fakeEngine{release: make(chan struct{})}
	defer close(eng.release)
	f := newFixture(t, eng)
	f.upload("/submit", jpeg)

	body := f.get("/").Body.String()
	if !strings.Contains(body, `http-equiv="refresh"`) || !strings.Contains(body, "正在批改中") {
		t.Fatalf("analyzing page: %s", body)
	}
	if !strings.Contains(body, `src="data:image/jpeg;base64,`) {
		t.Fatalf("analyzing page must preview the image")
	}
}

func gradeJSON(t *testing.T, f *fixture, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/v1/grade", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	return f.do(req)
}

func TestGrade_Stateless(t *testing.T) {
	f := newFixture(t, &fakeEngine{result: sampleResult()})
	w := gradeJSON(t, f, GradeRequest{ImageB64: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var out GradeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Engine != "fake" || out.OverallScore != 85 || out.Band != types.BandHigh || len(out.Corrections) != 2 {
		t.Fatalf("unexpected response %+v", out)
	}
	if f.store.Len() != 0 {
		t.Fatalf("stateless endpoint must not create sessions")
	}

	w = f.upload("/v1/grade", jpeg)
	if w.Code != http.StatusOK {
		t.Fatalf("multipart status = %d", w.Code)
	}
}

func TestGrade_Errors(t *testing.T) {
	tests := []struct {
		name     string
		engine   *fakeEngine
		req      GradeRequest
		header   map[string]string
		wantCode int
		wantKind string
	}{
		{"bad base64", &fakeEngine{}, GradeRequest{ImageB64: "%%%"}, nil, http.StatusBadRequest, ""},
		{"too large", &fakeEngine{}, GradeRequest{ImageB64: base64.StdEncoding.EncodeToString(make([]byte, 1500))}, nil, http.StatusRequestEntityTooLarge, ""},
		{"unknown engine", &fakeEngine{}, GradeRequest{LLMName: "yandex", ImageB64: base64.StdEncoding.EncodeToString(jpeg)}, nil, http.StatusBadRequest, ""},
		{"unconfigured engine", &fakeEngine{}, GradeRequest{LLMName: "claude", ImageB64: base64.StdEncoding.EncodeToString(jpeg)}, nil, http.StatusInternalServerError, ""},
		{"decode error", &fakeEngine{err: &types.DecodeError{Err: io.ErrUnexpectedEOF}}, GradeRequest{ImageB64: base64.StdEncoding.EncodeToString(jpeg)}, nil, http.StatusBadGateway, types.KindDecode},
		{"empty response", &fakeEngine{err: types.ErrEmptyResponse}, GradeRequest{ImageB64: base64.StdEncoding.EncodeToString(jpeg)}, nil, http.StatusBadGateway, types.KindEmptyResponse},
		{"transport", &fakeEngine{err: &types.TransportError{Engine: "fake", Err: io.EOF}}, GradeRequest{ImageB64: base64.StdEncoding.EncodeToString(jpeg)}, nil, http.StatusBadGateway, types.KindTransport},
		{"timeout", &fakeEngine{block: true}, GradeRequest{ImageB64: base64.StdEncoding.EncodeToString(jpeg)}, map[string]string{"X-Request-Timeout": "1"}, http.StatusGatewayTimeout, types.KindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.engine)
			w := gradeJSON(t, f, tt.req, tt.header)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			var er ErrorResponse
			_ = json.Unmarshal(w.Body.Bytes(), &er)
			if er.Kind != tt.wantKind {
				t.Fatalf("kind = %q, want %q", er.Kind, tt.wantKind)
			}
		})
	}
}

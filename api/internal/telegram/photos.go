package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"homework-grader/api/internal/controller"
	"homework-grader/api/internal/logger"
	"homework-grader/api/internal/session"
)

const defaultWaitTimeout = 3 * time.Minute

// acceptPhoto grades one photo. A finished result or error is cleared first;
// a photo sent while the previous one is still being graded is refused.
func (r *Router) acceptPhoto(chatID int64, fileID string) {
	key := session.TelegramKey(chatID)
	ctl := r.Sessions.Get(key)
	log := logger.WithFields(logrus.Fields{"chat_id": chatID, "session": key})

	switch ctl.Peek().Phase() {
	case controller.PhaseAnalyzing:
		r.send(chatID, textStillGrading)
		return
	case controller.PhaseResult, controller.PhaseError:
		ctl.Reset()
	}

	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		log.WithError(err).Warn("telegram get file failed")
		r.send(chatID, textDownloadFailed)
		return
	}
	img, err := download(context.Background(), url, r.MaxBytes)
	if err != nil {
		log.WithError(err).Warn("telegram download failed")
		r.send(chatID, textDownloadFailed)
		return
	}

	if err := ctl.SubmitImage(img, ""); err != nil {
		if errors.Is(err, controller.ErrBusy) {
			r.send(chatID, textStillGrading)
			return
		}
		log.WithError(err).Warn("submit failed")
		r.send(chatID, textDownloadFailed)
		return
	}
	r.send(chatID, textReceived)

	timeout := r.WaitTimeout
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	st, err := ctl.Wait(ctx)
	if err != nil {
		log.WithError(err).Info("grade still running after wait timeout")
		r.send(chatID, textSlow)
		return
	}
	r.sendState(chatID, st)
}

// sendState renders a controller snapshot for the chat.
func (r *Router) sendState(chatID int64, st controller.State) {
	switch st.Phase() {
	case controller.PhaseIdle:
		r.send(chatID, textSendPhoto)
	case controller.PhaseAnalyzing:
		r.send(chatID, textStillGrading)
	case controller.PhaseResult:
		res, _ := st.Result()
		r.sendWithKeyboard(chatID, formatResult(res), makeNextKeyboard())
	case controller.PhaseError:
		r.sendWithKeyboard(chatID, textGradeFailed, makeRetakeKeyboard())
	}
}

func download(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	var body io.Reader = resp.Body
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if limit > 0 && int64(len(b)) > limit {
		return nil, fmt.Errorf("file exceeds %d bytes", limit)
	}
	return b, nil
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

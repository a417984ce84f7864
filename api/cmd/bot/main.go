package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"homework-grader/api/internal/config"
	"homework-grader/api/internal/controller"
	"homework-grader/api/internal/grading"
	"homework-grader/api/internal/httpserver"
	"homework-grader/api/internal/logger"
	"homework-grader/api/internal/session"
	"homework-grader/api/internal/telegram"
)

func main() {
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	if err := cfg.RequireTelegram(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	engs, def, err := grading.FromConfig(cfg)
	if err != nil {
		logger.Fatalf("engines: %v", err)
	}
	manager := grading.NewManager(def)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions := session.NewStore(func(key string) *controller.Controller {
		return controller.New(manager.For(key),
			controller.WithContext(ctx),
			controller.WithName(key),
		)
	}, cfg.SessionTTL)
	if err := sessions.StartReaper(cfg.SweepSchedule()); err != nil {
		logger.Fatalf("session reaper: %v", err)
	}
	defer sessions.Stop()

	// --- Telegram bot ---
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		logger.Fatalf("telegram: %v", err)
	}
	bot.Debug = false

	r := &telegram.Router{
		Bot:        bot,
		Sessions:   sessions,
		Engines:    engs,
		EngManager: manager,
		MaxBytes:   cfg.MaxUploadBytes,
	}

	mux := httpserver.NewMux(func() string {
		return fmt.Sprintf("ok\nsessions=%d", sessions.Len())
	})
	addr := cfg.ServerAddress()

	logger.WithFields(logrus.Fields{
		"bot":     bot.Self.UserName,
		"engine":  def.Name(),
		"model":   def.GetModel(),
		"webhook": cfg.WebhookURL != "",
	}).Info("bot starting")

	// --- Choose mode: Webhook vs Polling ---
	var srv *http.Server
	if webhookURL := strings.TrimSpace(cfg.WebhookURL); webhookURL != "" {
		srv = startWebhookMode(addr, mux, bot, r, webhookURL)
	} else {
		srv = httpserver.StartHTTP(addr, mux)
		go runPolling(ctx, bot, func(upd tgbotapi.Update) {
			go r.HandleUpdate(upd)
		})
	}

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// ---------------- Modes -----------------

func startWebhookMode(addr string, mux *http.ServeMux, bot *tgbotapi.BotAPI, r *telegram.Router, baseURL string) *http.Server {
	// secret webhook path derived from the token
	path := "/webhook/" + shortHash(bot.Token)
	public := strings.TrimRight(baseURL, "/") + path

	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		logger.Fatalf("webhook: %v", err)
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		logger.Fatalf("webhook: %v", err)
	}

	mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
		upd, err := bot.HandleUpdate(req)
		if err != nil {
			logger.WithError(err).Warn("webhook: bad update")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		go r.HandleUpdate(*upd)
	})

	logger.WithField("path", path).Info("webhook registered")
	return httpserver.StartHTTP(addr, mux)
}

// ---------------- Polling loop -----------------

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") { // HTTP 429 from Telegram
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return time.Duration(n) * time.Second
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return 2 * time.Second
		}
	}
	return 1 * time.Second
}

func clampDelay(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func runPolling(ctx context.Context, bot *tgbotapi.BotAPI, handle func(tgbotapi.Update)) {
	offset := 0
	baseDelay := 1 * time.Second
	maxDelay := 15 * time.Second

	for {
		select {
		case <-ctx.Done():
			logger.Info("polling: context cancelled")
			return
		default:
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30 // long polling timeout (sec)

		updates, err := bot.GetUpdates(u)
		if err != nil {
			d := clampDelay(retryDelayFromError(err), baseDelay, maxDelay)
			logger.WithError(err).WithField("retry_in", d.String()).Warn("polling error")
			time.Sleep(d)
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			handle(upd)
		}

		if len(updates) == 0 {
			time.Sleep(200 * time.Millisecond)
		}
	}
}

// ---------------- Helpers -----------------

func shortHash(s string) string {
	// FNV-1a; stable per token, not a secret by itself
	h := uint64(1469598103934665603)
	const prime = 1099511628211
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		out[i] = hexdigits[h&0xF]
		h >>= 4
	}
	return string(out)
}

package telegram

import (
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"homework-grader/api/internal/grading"
	"homework-grader/api/internal/logger"
	"homework-grader/api/internal/session"
)

// Bot is the subset of *tgbotapi.BotAPI the router talks to.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Router handles one update at a time and blocks while a photo is graded;
// callers dispatch updates from different chats concurrently.
type Router struct {
	Bot        Bot
	Sessions   *session.Store
	Engines    *grading.Engines
	EngManager *grading.Manager

	// MaxBytes caps a downloaded photo; zero means no limit.
	MaxBytes int64
	// WaitTimeout bounds how long the router waits for a grade before
	// telling the user to check back with /status.
	WaitTimeout time.Duration
}

func (r *Router) HandleUpdate(upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		r.handleCallback(*upd.CallbackQuery)
		return
	}
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.IsCommand() {
		r.HandleCommand(*msg)
		return
	}
	if fileID, ok := imageFileID(msg); ok {
		r.acceptPhoto(msg.Chat.ID, fileID)
		return
	}
	if strings.TrimSpace(msg.Text) != "" {
		r.send(msg.Chat.ID, textSendPhoto)
	}
}

func (r *Router) HandleCommand(msg tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start":
		r.send(cid, textStart)
	case "health":
		r.send(cid, "✅ OK")
	case "reset":
		r.Sessions.Get(session.TelegramKey(cid)).Reset()
		r.send(cid, textSendNext)
	case "status":
		r.sendState(cid, r.Sessions.Get(session.TelegramKey(cid)).State())
	case "engine":
		r.handleEngineCommand(cid, msg.CommandArguments())
	default:
		r.send(cid, "未知命令。"+textCommands)
	}
}

// handleEngineCommand switches the grading engine for the chat.
// Formats:
//
//	/engine
//	/engine gemini [model]
//	/engine gpt [model]
//	/engine claude [model]
func (r *Router) handleEngineCommand(chatID int64, argLine string) {
	key := session.TelegramKey(chatID)
	args := strings.Fields(argLine)
	if len(args) == 0 {
		cur := "无"
		if e := r.EngManager.Get(key); e != nil {
			cur = e.Name() + " (" + e.GetModel() + ")"
		}
		r.send(chatID, "当前引擎："+cur+"\n可用："+strings.Join(r.Engines.Names(), " | ")+
			"\n用法：/engine {gemini|gpt|claude} [model]")
		return
	}

	eng, err := r.Engines.GetEngine(args[0])
	if err != nil {
		r.send(chatID, "❌ "+err.Error())
		return
	}

	// Some engines can switch their default model.
	type modelSetter interface{ SetModel(string) }
	if len(args) > 1 {
		if ms, ok := eng.(modelSetter); ok {
			ms.SetModel(args[1])
		}
	}
	r.EngManager.Set(key, eng)
	logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"engine":  eng.Name(),
		"model":   eng.GetModel(),
	}).Info("engine switched")
	r.send(chatID, "✅ 引擎："+eng.Name()+" ("+eng.GetModel()+")")
}

func (r *Router) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := r.Bot.Send(msg); err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Warn("telegram send failed")
	}
}

func (r *Router) sendWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = kb
	if _, err := r.Bot.Send(msg); err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Warn("telegram markdown send failed, retrying as plain text")
		msg.ParseMode = ""
		if _, err := r.Bot.Send(msg); err != nil {
			logger.WithError(err).WithField("chat_id", chatID).Warn("telegram send failed")
		}
	}
}

// imageFileID picks the largest photo size or an image sent as a document.
func imageFileID(msg *tgbotapi.Message) (string, bool) {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID, true
	}
	if d := msg.Document; d != nil && strings.HasPrefix(strings.ToLower(d.MimeType), "image/") {
		return d.FileID, true
	}
	return "", false
}

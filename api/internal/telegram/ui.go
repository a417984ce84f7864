package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"homework-grader/api/internal/grading/types"
	"homework-grader/api/internal/util"
)

const maxMessageLen = 3900

const (
	textCommands       = "命令：/status /reset /engine /health"
	textStart          = "AI 作业批改神器\n拍一张完整的作业照片发给我，我来批改。\n" + textCommands
	textSendPhoto      = "请发送一张作业照片。"
	textSendNext       = "好的，请发送下一份作业照片。"
	textReceived       = "📸 已收到，正在批改中...\nAI 老师正在仔细检查每一道题"
	textStillGrading   = "⏳ 上一份作业还在批改中，请稍候。"
	textSlow           = "⌛ 批改时间较长，稍后发送 /status 查看结果。"
	textDownloadFailed = "❌ 无法读取这张图片，请重新发送。"
	textGradeFailed    = "*批改失败*\n抱歉，未能识别图片内容。请确保光线充足，文字清晰，并拍摄完整的作业页面。"
	textNoCorrections  = "未检测到具体的题目，请参考总评。"
	textOmitted        = "…（其余 %d 题未显示）"
)

func makeNextKeyboard() tgbotapi.InlineKeyboardMarkup {
	btn := tgbotapi.NewInlineKeyboardButtonData("批改下一份", cbNext)
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(btn))
}

func makeRetakeKeyboard() tgbotapi.InlineKeyboardMarkup {
	btn := tgbotapi.NewInlineKeyboardButtonData("重新拍摄", cbRetake)
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(btn))
}

func bandMark(band string) string {
	switch band {
	case types.BandHigh:
		return "🟢"
	case types.BandPass:
		return "🟡"
	default:
		return "🔴"
	}
}

// Per-field byte budgets, applied before escaping so a cut never splits
// Markdown markup.
const (
	maxSubjectLen     = 200
	maxSummaryLen     = 1500
	maxAnswerLen      = 300
	maxExplanationLen = 600
)

// formatResult renders a grade as a Markdown message no longer than
// maxMessageLen. Corrections that do not fit are counted, not cut.
func formatResult(r types.GradingResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📘 *%s*\n", esc(util.Truncate(r.Subject, maxSubjectLen)))
	pass := "需努力"
	if r.Passing() {
		pass = "合格"
	}
	fmt.Fprintf(&b, "%s 本次得分：*%d*/100 · %s\n", bandMark(r.Band()), r.OverallScore, pass)
	if s := strings.TrimSpace(r.Summary); s != "" {
		b.WriteString(esc(util.Truncate(s, maxSummaryLen)))
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "\n*批改详情*（%d题）\n", len(r.Corrections))
	if len(r.Corrections) == 0 {
		b.WriteString(textNoCorrections)
	}
	for i, c := range r.Corrections {
		line := formatCorrection(c)
		if b.Len()+len(line)+len(textOmitted)+8 > maxMessageLen {
			fmt.Fprintf(&b, textOmitted, len(r.Corrections)-i)
			break
		}
		b.WriteString(line)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatCorrection(c types.CorrectionItem) string {
	var b strings.Builder
	mark := "✅"
	if !c.IsCorrect {
		mark = "❌"
	}
	fmt.Fprintf(&b, "%s 题目 %s：\"%s\"", mark,
		esc(util.Truncate(c.QuestionIndex, maxAnswerLen)), esc(util.Truncate(c.StudentAnswer, maxAnswerLen)))
	if !c.IsCorrect {
		fmt.Fprintf(&b, " · 正确: %s", esc(util.Truncate(c.CorrectAnswer, maxAnswerLen)))
	}
	b.WriteByte('\n')
	if e := strings.TrimSpace(c.Explanation); e != "" {
		fmt.Fprintf(&b, "   %s\n", esc(util.Truncate(e, maxExplanationLen)))
	}
	return b.String()
}

// esc escapes legacy Markdown control characters.
func esc(s string) string {
	s = strings.ReplaceAll(s, "`", "'")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "[", "\\[")
	return s
}

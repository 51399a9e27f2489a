package matching

import (
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Min interval between any two Telegram messages to the same chat to avoid
// 429 Too Many Requests (~30/min limit).
const telegramSendInterval = 2 * time.Second

// Notifier sends matching reports to a Telegram chat. A nil Notifier is
// valid and drops every message.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64

	mu       sync.Mutex
	lastSend time.Time
}

func NewNotifier(token string, chatID int64) *Notifier {
	if token == "" || chatID == 0 {
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		slog.Error("Failed to create telegram bot", "error", err)
		return nil
	}
	bot.Debug = false

	if _, err := bot.GetMe(); err != nil {
		slog.Error("Failed to get bot info", "error", err)
		return nil
	}

	return &Notifier{bot: bot, chatID: chatID}
}

// reserveSlot claims the next send slot and returns how long the caller
// must wait before using it. The lock is held only for the bookkeeping,
// never across the wait itself.
func (n *Notifier) reserveSlot(now time.Time) time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()

	next := n.lastSend.Add(telegramSendInterval)
	if next.Before(now) {
		next = now
	}
	n.lastSend = next
	return next.Sub(now)
}

func (n *Notifier) Send(text string) {
	if n == nil {
		return
	}

	if wait := n.reserveSlot(time.Now()); wait > 0 {
		time.Sleep(wait)
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		slog.Error("Failed to send telegram message", "error", err)
	}
}

package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nx/nxclaw/internal/runtime"
)

// TelegramChannel is a synchronous Telegram adapter: unlike the teacher's
// task-ID/event-bus completion tracking, runtime.Orchestrator.HandleIncoming
// is one blocking call per message, so there is no pending-task bookkeeping
// or stream-token editing to maintain.
type TelegramChannel struct {
	token        string
	allowedIDs   map[int64]struct{}
	orchestrator *runtime.Orchestrator
	logger       *slog.Logger

	bot *tgbotapi.BotAPI
}

// NewTelegramChannel builds a Telegram adapter. allowedIDs is the operator
// allowlist of Telegram user IDs; an empty slice denies everyone.
func NewTelegramChannel(token string, allowedIDs []int64, orchestrator *runtime.Orchestrator, logger *slog.Logger) *TelegramChannel {
	allowed := make(map[int64]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	return &TelegramChannel{
		token:        token,
		allowedIDs:   allowed,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

// Start blocks in a reconnect-with-backoff long-polling loop until ctx is
// cancelled, grounded on the teacher's telegram.go Start/pollUpdates shape.
func (t *TelegramChannel) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		t.orchestrator.SetChannelHealth(t.Name(), false, err.Error())
		return fmt.Errorf("telegram init failed: %w", err)
	}
	t.logger.Info("telegram bot started", "user", t.bot.Self.UserName)
	t.orchestrator.SetChannelHealth(t.Name(), true, "")

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			t.orchestrator.SetChannelHealth(t.Name(), false, pollErr.Error())
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		t.orchestrator.SetChannelHealth(t.Name(), true, "")
		return nil
	}
}

// pollUpdates drains one GetUpdatesChan lifetime, returning an error when
// the channel closes or the long-poll appears to have stalled (tgbotapi
// blocks rather than closing the channel on a dead connection).
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message == nil {
				continue
			}
			if _, allowed := t.allowedIDs[update.Message.From.ID]; !allowed {
				t.logger.Warn("telegram access denied", "user_id", update.Message.From.ID, "user_name", update.Message.From.UserName)
				continue
			}
			t.handleMessage(ctx, update.Message)

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

// handleMessage answers a single message synchronously: HandleIncoming
// already applies backpressure, timeouts, and retries, so the adapter just
// forwards its return value.
func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return
	}

	sessionID := fmt.Sprintf("telegram-%d", msg.From.ID)
	reply := t.orchestrator.HandleIncoming(ctx, runtime.Incoming{
		Source:    t.Name(),
		ChannelID: fmt.Sprintf("%d", msg.Chat.ID),
		UserID:    fmt.Sprintf("%d", msg.From.ID),
		SessionID: sessionID,
	}, content)

	t.reply(msg.Chat.ID, reply)
}

func (t *TelegramChannel) reply(chatID int64, text string) {
	out := tgbotapi.NewMessage(chatID, escapeMarkdownV2(text))
	out.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := t.bot.Send(out); err != nil {
		// MarkdownV2 escaping can still trip on malformed model output;
		// fall back to a plain-text send rather than dropping the reply.
		plain := tgbotapi.NewMessage(chatID, text)
		if _, err2 := t.bot.Send(plain); err2 != nil {
			t.logger.Error("telegram send failed", "error", err2)
		}
	}
}

func escapeMarkdownV2(s string) string {
	const specialChars = "_*[]()~>#+-=|{}.!"
	result := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.ContainsAny(string(c), specialChars) {
			result = append(result, '\\')
		}
		result = append(result, c)
	}
	return string(result)
}

package service

import (
	"context"
	"strings"
	"sync"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"breakout_bot/internal/models"
	"breakout_bot/pkg/logger"
)

type botAPI interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
	GetUpdatesChan(cfg tgbot.UpdateConfig) tgbot.UpdatesChannel
	StopReceivingUpdates()
}

// StatusSource откуда команды берут состояние аккаунтов.
type StatusSource interface {
	Accounts() []models.AccountStatus
	FeedStatus() models.FeedStatus
}

// Telegram один бот: отправка сообщений в чаты аккаунтов и команды /status, /feed.
type Telegram struct {
	bot  botAPI
	name string
	log  *zap.Logger

	mu     sync.RWMutex
	chats  map[int64]bool // чаты, которым бот отвечает на команды
	status StatusSource

	stopOnce sync.Once
}

func NewTelegram(token, name string, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrapf(err, "telegram bot %s", name)
	}
	return newTelegram(b, name, log), nil
}

func newTelegram(bot botAPI, name string, log *zap.Logger) *Telegram {
	return &Telegram{
		bot:   bot,
		name:  name,
		log:   logger.Named(log, "telegram").With(zap.String("bot", name)),
		chats: make(map[int64]bool),
	}
}

func (t *Telegram) Send(ctx context.Context, chatID int64, msg string) error {
	if t == nil || t.bot == nil || chatID == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(tgbot.NewMessage(chatID, msg))
	if err != nil {
		return errors.Wrapf(err, "send to chat %d", chatID)
	}
	return nil
}

// SetStatusSource подключается после сборки оркестратора.
func (t *Telegram) SetStatusSource(s StatusSource) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = s
}

// Chat синк событий в один чат. Чат заодно получает доступ к командам.
func (t *Telegram) Chat(chatID int64) *ChatSink {
	t.mu.Lock()
	t.chats[chatID] = true
	t.mu.Unlock()
	return &ChatSink{t: t, chatID: chatID}
}

// Start: long-polling команд.
func (t *Telegram) Start(ctx context.Context) {
	if t == nil || t.bot == nil {
		return
	}
	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(ctx, upd)
			}
		}
	}()
}

func (t *Telegram) Stop() {
	if t == nil || t.bot == nil {
		return
	}
	t.stopOnce.Do(t.bot.StopReceivingUpdates)
}

func (t *Telegram) handleUpdate(ctx context.Context, upd tgbot.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}
	t.mu.RLock()
	allowed := t.chats[msg.Chat.ID]
	status := t.status
	t.mu.RUnlock()
	if !allowed {
		t.log.Debug("command from unknown chat", zap.Int64("chat", msg.Chat.ID))
		return
	}

	var reply string
	switch strings.ToLower(msg.Command()) {
	case "status":
		if status == nil {
			reply = "⏳ Оркестратор ещё не запущен"
			break
		}
		reply = formatAccounts(status.Accounts())
	case "feed":
		if status == nil {
			reply = "⏳ Оркестратор ещё не запущен"
			break
		}
		reply = formatFeed(status.FeedStatus())
	default:
		reply = "Команды: /status, /feed"
	}

	if err := t.Send(ctx, msg.Chat.ID, reply); err != nil {
		t.log.Error("command reply failed", zap.String("command", msg.Command()), zap.Error(err))
	}
}

// ChatSink реализует notify.Sink для одного чата.
type ChatSink struct {
	t      *Telegram
	chatID int64
}

func (s *ChatSink) Name() string { return "telegram:" + s.t.name }

func (s *ChatSink) Send(ctx context.Context, ev models.Event) error {
	return s.t.Send(ctx, s.chatID, formatEvent(ev))
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"breakout_bot/internal/models"
)

type fakeBot struct {
	mu      sync.Mutex
	sent    []tgbot.MessageConfig
	err     error
	updates chan tgbot.Update
	stopped int
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan tgbot.Update, 4)}
}

func (b *fakeBot) Send(c tgbot.Chattable) (tgbot.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return tgbot.Message{}, b.err
	}
	if m, ok := c.(tgbot.MessageConfig); ok {
		b.sent = append(b.sent, m)
	}
	return tgbot.Message{MessageID: len(b.sent)}, nil
}

func (b *fakeBot) GetUpdatesChan(tgbot.UpdateConfig) tgbot.UpdatesChannel { return b.updates }

func (b *fakeBot) StopReceivingUpdates() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped++
}

func (b *fakeBot) messages() []tgbot.MessageConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]tgbot.MessageConfig, len(b.sent))
	copy(out, b.sent)
	return out
}

type fakeStatus struct{}

func (fakeStatus) Accounts() []models.AccountStatus {
	return []models.AccountStatus{
		{
			AccountID: "acc-1", Name: "Main",
			Health:   models.HealthRecord{Status: models.StatusRunning},
			Daily:    models.DailyState{TradeCount: 2, RealizedPnL: -84},
			Exposure: models.Exposure{OpenPositions: 1},
		},
		{
			AccountID: "acc-2",
			Health:    models.HealthRecord{Status: models.StatusFailed, RestartsToday: 3},
			Daily:     models.DailyState{Halted: true, HaltReason: "daily loss"},
		},
	}
}

func (fakeStatus) FeedStatus() models.FeedStatus { return models.FeedDegraded }

func command(chatID int64, text string) tgbot.Update {
	return tgbot.Update{Message: &tgbot.Message{
		Chat:     &tgbot.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbot.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}}
}

func TestChatSink_SendsEventToChat(t *testing.T) {
	bot := newFakeBot()
	tg := newTelegram(bot, "shared", zaptest.NewLogger(t))
	sink := tg.Chat(100)

	require.NoError(t, sink.Send(context.Background(), models.Event{
		Kind: models.EventEntry, AccountID: "acc-1", Message: "✅ Вход CALL x4",
	}))

	msgs := bot.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(100), msgs[0].ChatID)
	assert.Equal(t, "[acc-1] ✅ Вход CALL x4", msgs[0].Text)
	assert.Equal(t, "telegram:shared", sink.Name())
}

func TestChatSink_WrapsBotError(t *testing.T) {
	bot := newFakeBot()
	bot.err = errors.New("429 too many requests")
	tg := newTelegram(bot, "shared", zaptest.NewLogger(t))

	err := tg.Chat(1).Send(context.Background(), models.Event{Kind: models.EventExit, Message: "x"})
	assert.ErrorContains(t, err, "429")
}

func TestTelegram_NilSafe(t *testing.T) {
	var tg *Telegram
	assert.NoError(t, tg.Send(context.Background(), 1, "x"))
	tg.Start(context.Background())
	tg.Stop()
	tg.SetStatusSource(fakeStatus{})
}

func TestTelegram_Commands(t *testing.T) {
	bot := newFakeBot()
	tg := newTelegram(bot, "shared", zaptest.NewLogger(t))
	tg.Chat(100)

	ctx := context.Background()
	tg.handleUpdate(ctx, command(100, "/status"))
	msgs := bot.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "не запущен")

	tg.SetStatusSource(fakeStatus{})
	tg.handleUpdate(ctx, command(100, "/status"))
	tg.handleUpdate(ctx, command(100, "/feed"))
	tg.handleUpdate(ctx, command(100, "/help"))

	msgs = bot.messages()
	require.Len(t, msgs, 4)
	assert.Contains(t, msgs[1].Text, "🟢 Main: сделок 2, P&L -$84.00, позиций 1")
	assert.Contains(t, msgs[1].Text, "🔴 acc-2")
	assert.Contains(t, msgs[1].Text, "стоп: daily loss")
	assert.Contains(t, msgs[1].Text, "рестартов 3")
	assert.Contains(t, msgs[2].Text, "деградировал")
	assert.Contains(t, msgs[3].Text, "/status")
}

func TestTelegram_IgnoresUnknownChatsAndPlainText(t *testing.T) {
	bot := newFakeBot()
	tg := newTelegram(bot, "shared", zaptest.NewLogger(t))
	tg.Chat(100)
	tg.SetStatusSource(fakeStatus{})

	tg.handleUpdate(context.Background(), command(999, "/status"))
	tg.handleUpdate(context.Background(), tgbot.Update{Message: &tgbot.Message{Chat: &tgbot.Chat{ID: 100}, Text: "hi"}})
	tg.handleUpdate(context.Background(), tgbot.Update{})

	assert.Empty(t, bot.messages())
}

func TestTelegram_StartPollsUntilStopped(t *testing.T) {
	bot := newFakeBot()
	tg := newTelegram(bot, "shared", zaptest.NewLogger(t))
	tg.Chat(100)
	tg.SetStatusSource(fakeStatus{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tg.Start(ctx)

	bot.updates <- command(100, "/feed")
	require.Eventually(t, func() bool { return len(bot.messages()) == 1 }, time.Second, 5*time.Millisecond)

	tg.Stop()
	tg.Stop()
	assert.Equal(t, 1, bot.stopped)
}

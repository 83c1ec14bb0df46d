package bot

import (
	"context"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rongwang/sot-gold-tracker/internal/utils"
)

// TelegramAPI is the part of *tgbotapi.BotAPI the adapter uses
type TelegramAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type telegramContext struct {
	api    TelegramAPI
	msg    *tgbotapi.Message
	userID string
}

func newTelegramContext(api TelegramAPI, msg *tgbotapi.Message) *telegramContext {
	return &telegramContext{api: api, msg: msg, userID: strconv.FormatInt(msg.From.ID, 10)}
}

func (c *telegramContext) UserID() string {
	return c.userID
}

func (c *telegramContext) Username() string {
	if c.msg.From.UserName != "" {
		return c.msg.From.UserName
	}
	name := strings.TrimSpace(c.msg.From.FirstName + " " + c.msg.From.LastName)
	if name != "" {
		return name
	}
	return c.userID
}

func (c *telegramContext) Reply(text string) error {
	reply := tgbotapi.NewMessage(c.msg.Chat.ID, text)
	reply.ReplyToMessageID = c.msg.MessageID
	_, err := c.api.Send(reply)
	return err
}

// RunTelegram long-polls Telegram and feeds every command message to the
// dispatcher until ctx is cancelled. In-flight commands finish before it
// returns.
func RunTelegram(ctx context.Context, api TelegramAPI, d *Dispatcher, logger *utils.Logger) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)

	var wg sync.WaitGroup
	defer wg.Wait()

	logger.Info("Telegram bot started")
	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			logger.Info("Telegram bot stopping")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			msg := update.Message
			if msg == nil || msg.From == nil {
				continue
			}
			if !msg.IsCommand() {
				continue
			}
			tc := newTelegramContext(api, msg)

			wg.Add(1)
			go func() {
				defer wg.Done()
				d.Execute(context.WithoutCancel(ctx), tc, msg.Command(), strings.Fields(msg.CommandArguments()))
			}()
		}
	}
}

// Package telegram connects a Telegram bot to the turn processor using long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/leadlink/internal/intake"
	"github.com/wolfeidau/leadlink/internal/models"
)

const (
	// Greeting answers /start without creating a lead.
	Greeting = "👋 Welcome! How can I help you today?"

	// Apology is sent when a turn fails.
	Apology = "Sorry, I encountered an error. Please try again."

	pollTimeout = 30
)

// TurnProcessor handles one inbound message.
type TurnProcessor interface {
	Process(ctx context.Context, msg *intake.Message) (*intake.Reply, error)
}

// botAPI is the subset of tgbotapi.BotAPI the channel needs.
type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config configures the Telegram channel.
type Config struct {
	Token string
	OrgID uuid.UUID
}

// Validate checks that the bot token and organization are set.
func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New("telegram bot token is required")
	}
	if c.OrgID == uuid.Nil {
		return errors.New("organization id is required")
	}
	return nil
}

// Channel relays Telegram messages to the processor and sends back the replies.
type Channel struct {
	orgID     uuid.UUID
	bot       botAPI
	processor TurnProcessor
}

// New connects to the Telegram bot API.
func New(cfg Config, processor TurnProcessor) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}

	log.Info().Str("username", bot.Self.UserName).Int64("id", bot.Self.ID).Msg("Telegram bot connected")

	return newChannel(cfg.OrgID, bot, processor), nil
}

func newChannel(orgID uuid.UUID, bot botAPI, processor TurnProcessor) *Channel {
	return &Channel{orgID: orgID, bot: bot, processor: processor}
}

// Run polls for updates until ctx is cancelled. Updates are handled one at a time so each chat sees its
// replies in order.
func (c *Channel) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := c.bot.GetUpdatesChan(u)

	log.Info().Msg("Telegram polling started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Telegram channel stopping")
			c.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			c.handleUpdate(ctx, update)
		}
	}
}

func (c *Channel) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Text == "" {
		return
	}

	chatID := msg.Chat.ID
	logger := log.With().Int64("chat_id", chatID).Int("message_id", msg.MessageID).Logger()

	if msg.IsCommand() && msg.Command() == "start" {
		c.send(chatID, Greeting)
		return
	}

	reply, err := c.processor.Process(ctx, &intake.Message{
		Key:            models.DedupKey{OrgID: c.orgID, Platform: models.PlatformTelegram, PlatformUserID: UserID(chatID)},
		Content:        msg.Text,
		ChannelContext: channelContext(msg),
		MessageID:      strconv.Itoa(msg.MessageID),
	})
	if err != nil {
		logger.Error().Err(err).Msg("Telegram turn failed")
		c.send(chatID, Apology)
		return
	}
	if reply.Duplicate {
		logger.Debug().Msg("Skipping redelivered message")
		return
	}

	c.send(chatID, reply.Response)
}

func (c *Channel) send(chatID int64, text string) {
	if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send telegram message")
	}
}

// UserID is the platform user id of a Telegram chat.
func UserID(chatID int64) string {
	return "telegram_" + strconv.FormatInt(chatID, 10)
}

func channelContext(msg *tgbotapi.Message) models.ChannelContext {
	cc := models.ChannelContext{
		"chat_id":    msg.Chat.ID,
		"message_id": msg.MessageID,
		"date":       msg.Date,
	}
	if from := msg.From; from != nil {
		cc["username"] = from.UserName
		cc["first_name"] = from.FirstName
		cc["last_name"] = from.LastName
		cc["language_code"] = from.LanguageCode
		cc["is_bot"] = from.IsBot
	}
	return cc
}

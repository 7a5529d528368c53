package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"evcs/internal"
	"evcs/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
)

const (
	featureName    = "TelegramBot"
	queueSize      = 100
	storageTimeout = 5 * time.Second
)

type Database interface {
	GetSubscriptions(ctx context.Context) ([]models.UserSubscription, error)
	AddSubscription(ctx context.Context, subscription *models.UserSubscription) error
	DeleteSubscription(ctx context.Context, subscription *models.UserSubscription) error
}

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TgBot implements EventHandler, alerts go to every subscribed chat
type TgBot struct {
	api           *tgbotapi.BotAPI
	sender        messageSender
	database      Database
	stations      internal.StationDirectory
	log           internal.LogHandler
	subscriptions map[int64]models.UserSubscription
	mux           sync.RWMutex
	event         chan MessageContent
	send          chan MessageContent
	done          chan struct{}
	stopOnce      sync.Once
	now           func() time.Time
}

type MessageContent struct {
	ChatID int64
	Text   string
}

func NewBot(apiKey string, log internal.LogHandler) (*TgBot, error) {
	api, err := tgbotapi.NewBotAPI(apiKey)
	if err != nil {
		return nil, err
	}
	tgBot := newBot(api, log)
	tgBot.api = api
	return tgBot, nil
}

func newBot(sender messageSender, log internal.LogHandler) *TgBot {
	return &TgBot{
		sender:        sender,
		log:           log,
		subscriptions: make(map[int64]models.UserSubscription),
		event:         make(chan MessageContent, queueSize),
		send:          make(chan MessageContent, queueSize),
		done:          make(chan struct{}),
		now:           time.Now,
	}
}

// SetDatabase attach subscriptions storage
func (b *TgBot) SetDatabase(database Database) {
	b.database = database
}

// SetStations attach the station directory used by the status command
func (b *TgBot) SetStations(stations internal.StationDirectory) {
	b.stations = stations
}

func (b *TgBot) Start() {
	if b.database != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
		subscriptions, err := b.database.GetSubscriptions(ctx)
		cancel()
		if err != nil {
			b.log.Error("bot: get subscriptions", err)
		}
		b.mux.Lock()
		for _, subscription := range subscriptions {
			b.subscriptions[subscription.UserID] = subscription
		}
		b.mux.Unlock()
	}
	go b.sendPump()
	go b.eventPump()
	if b.api != nil {
		go b.updatesPump()
	}
}

func (b *TgBot) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		if b.api != nil {
			b.api.StopReceivingUpdates()
		}
	})
}

// updatesPump handles bot commands
func (b *TgBot) updatesPump() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates, err := b.api.GetUpdatesChan(u)
	if err != nil {
		b.log.Error("bot: get updates", err)
		return
	}
	for {
		select {
		case <-b.done:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			user := ""
			userID := int64(0)
			if update.Message.From != nil {
				user = update.Message.From.UserName
				userID = int64(update.Message.From.ID)
			}
			reply := b.handleCommand(update.Message.Command(), userID, user)
			if reply != "" {
				b.enqueue(b.send, MessageContent{ChatID: update.Message.Chat.ID, Text: reply})
			}
		}
	}
}

func (b *TgBot) handleCommand(command string, userID int64, user string) string {
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	switch command {
	case "start":
		subscription := models.UserSubscription{
			UserID:           userID,
			User:             user,
			SubscriptionType: "status",
			DateSubscribed:   b.now(),
		}
		b.mux.Lock()
		b.subscriptions[userID] = subscription
		b.mux.Unlock()
		if b.database != nil {
			if err := b.database.AddSubscription(ctx, &subscription); err != nil {
				b.log.Error("bot: add subscription", err)
				return fmt.Sprintf("Error adding subscription:\n`%s`", sanitize(err.Error()))
			}
		}
		return fmt.Sprintf("Hello *%s*, you are now subscribed to updates", sanitize(user))
	case "stop":
		b.mux.Lock()
		delete(b.subscriptions, userID)
		b.mux.Unlock()
		if b.database != nil {
			if err := b.database.DeleteSubscription(ctx, &models.UserSubscription{UserID: userID}); err != nil {
				b.log.Error("bot: delete subscription", err)
			}
		}
		return "Your subscription has been removed"
	case "status":
		return b.composeStatusMessage(ctx)
	}
	return ""
}

// eventPump sending events to all subscribers
func (b *TgBot) eventPump() {
	for {
		select {
		case <-b.done:
			return
		case event := <-b.event:
			b.mux.RLock()
			chats := make([]int64, 0, len(b.subscriptions))
			for id := range b.subscriptions {
				chats = append(chats, id)
			}
			b.mux.RUnlock()
			for _, id := range chats {
				b.sendMessage(id, event.Text)
			}
		}
	}
}

// sendPump sending messages to users
func (b *TgBot) sendPump() {
	for {
		select {
		case <-b.done:
			return
		case message := <-b.send:
			b.sendMessage(message.ChatID, message.Text)
		}
	}
}

// sendMessage common routine to send a message via bot API
func (b *TgBot) sendMessage(id int64, text string) {
	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = "MarkdownV2"
	_, err := b.sender.Send(msg)
	if err != nil {
		// maybe error was while parsing, so we can send a message about this error
		msg = tgbotapi.NewMessage(id, fmt.Sprintf("Error: %v", err))
		if _, err = b.sender.Send(msg); err != nil {
			b.log.Error("bot: send message", err)
		}
	}
}

func (b *TgBot) enqueue(queue chan MessageContent, message MessageContent) {
	select {
	case queue <- message:
	default:
		b.log.Warn(fmt.Sprintf("%s: queue is full, message dropped", featureName))
	}
}

func (b *TgBot) OnStationBooted(event *internal.EventMessage) {
	b.enqueue(b.event, MessageContent{Text: bootMessage(event)})
}

func (b *TgBot) OnStationFailure(event *internal.EventMessage) {
	b.enqueue(b.event, MessageContent{Text: failureMessage(event)})
}

func (b *TgBot) OnTransactionStart(event *internal.EventMessage) {
	b.enqueue(b.event, MessageContent{Text: transactionStartMessage(event)})
}

func (b *TgBot) OnTransactionStop(event *internal.EventMessage) {
	b.enqueue(b.event, MessageContent{Text: transactionStopMessage(event)})
}

// OnSessionProgress progress is published by the realtime mirror only
func (b *TgBot) OnSessionProgress(_ *internal.EventMessage) {}

func (b *TgBot) OnConsistencyViolation(event *internal.EventMessage) {
	b.enqueue(b.event, MessageContent{Text: violationMessage(event)})
}

func (b *TgBot) composeStatusMessage(ctx context.Context) string {
	b.mux.RLock()
	subscriptions := len(b.subscriptions)
	b.mux.RUnlock()
	msg := "Status info:\n\n"
	if b.stations != nil {
		chargePoints, err := b.stations.GetChargePoints(ctx)
		if err != nil {
			b.log.Error("bot: get charge points", err)
			msg += fmt.Sprintf("Error getting charge points:\n`%s`\n\n", sanitize(err.Error()))
		}
		msg += stationsStatus(chargePoints, b.now())
	}
	msg += fmt.Sprintf("Active subscriptions: %d", subscriptions)
	return msg
}

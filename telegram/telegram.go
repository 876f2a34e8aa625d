// Copyright (c) 2025 BVK Chaitanya

// Package telegram sends operator alerts and answers operator commands
// over a Telegram bot.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bvk/rangebot/ctxutil"
	"github.com/bvk/rangebot/syncmap"
	"github.com/visvasity/cli"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type CmdFunc = cli.CmdFunc

type command struct {
	purpose string
	handler CmdFunc
}

// Alerter delivers alert messages to a fixed operator chat and dispatches
// slash commands from that chat to registered handlers.
type Alerter struct {
	cg ctxutil.CloseGroup

	bot *bot.Bot

	chatID int64

	commandMap syncmap.Map[string, *command]
}

var start = time.Now()

// New authorizes with the token and starts listening for operator
// commands on the given chat.
func New(ctx context.Context, token string, chatID int64) (*Alerter, error) {
	if len(token) == 0 || chatID == 0 {
		return nil, fmt.Errorf("telegram token and chat id are required: %w", os.ErrInvalid)
	}

	a := &Alerter{chatID: chatID}
	opts := []bot.Option{
		bot.WithDefaultHandler(a.handler),
	}
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create telegram bot: %w", err)
	}
	a.bot = b

	if _, err := b.GetMe(ctx); err != nil {
		return nil, fmt.Errorf("could not authorize telegram bot: %w", err)
	}

	a.commandMap.Store("uptime", &command{
		purpose: "Prints bot uptime",
		handler: a.uptime,
	})

	if ok, err := a.bot.SetMyCommands(ctx, a.commands()); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("could not set bot commands")
	}

	a.cg.Go(func(ctx context.Context) {
		a.bot.Start(ctx)
	})
	return a, nil
}

func (a *Alerter) Close() error {
	a.cg.Close()
	return nil
}

// AddCommand registers a slash command available to the operator.
func (a *Alerter) AddCommand(ctx context.Context, name, purpose string, handler CmdFunc) error {
	if len(name) == 0 || len(purpose) == 0 || handler == nil {
		return os.ErrInvalid
	}
	cdata := &command{
		purpose: purpose,
		handler: handler,
	}
	if _, loaded := a.commandMap.LoadOrStore(name, cdata); loaded {
		return os.ErrExist
	}
	if ok, err := a.bot.SetMyCommands(ctx, a.commands()); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("could not set bot commands")
	}
	return nil
}

func (a *Alerter) commands() *bot.SetMyCommandsParams {
	var cmds []models.BotCommand
	for name, cdata := range a.commandMap.Range {
		cmds = append(cmds, models.BotCommand{
			Command:     name,
			Description: cdata.purpose,
		})
	}
	return &bot.SetMyCommandsParams{Commands: cmds}
}

// SendAlert delivers a timestamped message to the operator chat. Delivery
// failures are logged and dropped; alerting never fails the trading cycle.
func (a *Alerter) SendAlert(ctx context.Context, at time.Time, text string) {
	msg := at.Format("2006-01-02 15:04:05 MST") + " " + text
	slog.Info("sending alert", "at", at, "message", text)

	p := &bot.SendMessageParams{
		ChatID: a.chatID,
		Text:   msg,
	}
	if _, err := a.bot.SendMessage(ctx, p); err != nil {
		slog.Error("could not send alert (ignored)", "err", err)
	}
}

func (a *Alerter) handler(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	if update.Message.Chat.ID != a.chatID {
		slog.Warn("received message from unknown chat (ignored)", "chat", update.Message.Chat.ID)
		return
	}
	if err := a.respond(ctx, update); err != nil {
		slog.Error("could not respond to operator command (ignored)", "err", err)
	}
}

func (a *Alerter) respond(ctx context.Context, update *models.Update) (status error) {
	var reply string
	defer func() {
		if status != nil {
			reply = status.Error()
			status = nil
		}
		if len(reply) == 0 {
			return
		}
		p := &bot.SendMessageParams{
			ChatID: update.Message.Chat.ID,
			Text:   reply,
			ReplyParameters: &models.ReplyParameters{
				MessageID: update.Message.ID,
			},
		}
		if _, err := a.bot.SendMessage(ctx, p); err != nil {
			status = err
		}
	}()

	name, args, handler, err := a.getCommand(update)
	if err != nil {
		return err
	}

	var sb strings.Builder
	if err := handler(cli.WithStdout(ctx, &sb), args); err != nil {
		slog.Error("could not handle operator command (ignored)", "cmd", name, "err", err)
		return err
	}
	reply = sb.String()
	return nil
}

func (a *Alerter) getCommand(update *models.Update) (string, []string, CmdFunc, error) {
	if len(update.Message.Entities) == 0 {
		return "", nil, nil, os.ErrInvalid
	}
	entity := update.Message.Entities[0]
	if entity.Type != models.MessageEntityTypeBotCommand || entity.Offset != 0 {
		return "", nil, nil, os.ErrInvalid
	}
	if update.Message.Text[0] != '/' {
		return "", nil, nil, os.ErrInvalid
	}
	name := update.Message.Text[1:entity.Length]
	args := strings.Fields(strings.TrimSpace(update.Message.Text[entity.Length:]))
	cdata, ok := a.commandMap.Load(name)
	if !ok {
		return name, nil, nil, os.ErrNotExist
	}
	return name, args, cdata.handler, nil
}

func (a *Alerter) uptime(ctx context.Context, args []string) error {
	stdout := cli.Stdout(ctx)
	const day = 24 * time.Hour
	d := time.Since(start)
	if d < day {
		fmt.Fprintf(stdout, "%v", d)
		return nil
	}
	fmt.Fprintf(stdout, "%dd%v", d/day, d%day)
	return nil
}

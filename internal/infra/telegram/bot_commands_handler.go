// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func RegisterBotCommands(b *telebot.Bot, adminTelegramID int64, baseLogger *logrus.Entry) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")
		return c.Send(startText(senderID, adminTelegramID, c.Sender().FirstName))
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		if senderID != adminTelegramID {
			return c.Send("No commands are available to you. Ask an administrator for access.")
		}
		return c.Send(adminHelpText(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})
}

func startText(senderID, adminID int64, firstName string) string {
	if senderID == adminID {
		return fmt.Sprintf("Hello, %s! The compliance scheduler is running. Use /help for the list of commands.", firstName)
	}
	return "Hello! This bot manages the compliance control schedule and only answers its administrator."
}

func adminHelpText() string {
	var helpText strings.Builder
	helpText.WriteString("Administrator commands:\n\n")
	helpText.WriteString("`/lookahead`\n - Generate tomorrow's instances for all active controls.\n\n")
	helpText.WriteString("`/batch <YYYY> <MM> [controlID]`\n - Generate a month. Days before today are skipped.\n\n")
	helpText.WriteString("`/sweep`\n - Mark pending instances from before today as missed.\n\n")
	helpText.WriteString("`/run_control <controlID>`\n - Generate one control from today to the end of the month.\n\n")
	helpText.WriteString("`/add_control <locationID> <type> [config JSON]`\n - Create a control, e.g. `/add_control 3 weekly {\"dayOfWeek\": 1}`.\n\n")
	helpText.WriteString("`/edit_control <controlID> <type> [config JSON]`\n - Replace a control's frequency rule.\n\n")
	helpText.WriteString("`/set_window <controlID> <start|-|none> <end|-|none>`\n - Set the active date window. `-` keeps a bound, `none` removes it.\n\n")
	helpText.WriteString("`/deactivate_control <controlID>`\n - Stop generating instances for a control.\n\n")
	helpText.WriteString("`/list_controls <locationID>`\n - Show the controls of a location.\n\n")
	helpText.WriteString("`/instances <controlID> [status]`\n - Show the latest instances of a control.\n\n")
	helpText.WriteString("`/help`\n - Show this message.")
	return helpText.String()
}

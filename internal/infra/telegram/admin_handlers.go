package telegram

import (
	"context"

	"gopkg.in/telebot.v3"
)

// RegisterAdminHandlers registers every admin command on the bot.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, cmds *AdminCommands) {
	for _, command := range cmds.Commands() {
		b.Handle(command, func(c telebot.Context) error {
			return c.Send(cmds.Execute(ctx, c.Sender().ID, command, c.Args()))
		})
	}
}

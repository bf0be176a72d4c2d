package command

import (
	"context"
	"fmt"
	"html"
	"strings"
)

// Builtins returns the commands every room starts with, in help order.
func Builtins() []Command {
	return []Command{
		{Name: "clear", Doc: "!clear - Clear all messages", Handler: clearHandler},
		{Name: "help", Doc: "!help [command] - Get help on a command", Handler: helpHandler},
		{Name: "list", Doc: "!list - List users in the chat", Handler: listHandler},
		{Name: "nick", Doc: "!nick [name] - Change your username", Handler: nickHandler},
	}
}

func clearHandler(ctx context.Context, room Room, _ Invocation) Future {
	room.Clear(ctx)
	return Resolve(Info("Messages cleared"))
}

func helpHandler(_ context.Context, _ Room, inv Invocation) Future {
	if len(inv.Args) > 1 {
		cmd, ok := inv.Commands.Lookup(inv.Args[1])
		if !ok {
			return Resolve(Error(NotFoundReply))
		}
		return Resolve(Info(cmd.Doc))
	}

	names := inv.Commands.Names()
	for i, n := range names {
		names[i] = Prefix + n
	}
	return Resolve(Info("Commands: " + strings.Join(names, ", ") + "\nUse !help [command] to get help on a command"))
}

func listHandler(_ context.Context, room Room, _ Invocation) Future {
	members := room.Members()
	tagged := make([]string, len(members))
	for i, m := range members {
		esc := html.EscapeString(m)
		tagged[i] = fmt.Sprintf(`<span class="user" data-user="%s">%s</span>`, esc, esc)
	}
	return Resolve(Info("Users: " + strings.Join(tagged, ", ")))
}

func nickHandler(_ context.Context, room Room, inv Invocation) Future {
	if len(inv.Args) < 2 {
		return Resolve(Error("Usage: !nick [name]"))
	}
	nick := inv.Args[1]
	room.SetNick(inv.Sender.ID(), nick)
	return Resolve(Info("You are now known as " + nick))
}

package domain

import "strings"

// CommandResult is the outcome of an executed bot command
type CommandResult struct {
	ChatIDForAnswer int64
	Text            string
}

// IsCommand reports whether text is a bot command addressed to this bot.
// "/help" is addressed to every bot, "/help@name" only to the bot called name.
func IsCommand(text, botName string) bool {
	text = strings.TrimSpace(text)
	if len(text) < 2 || text[0] != '/' {
		return false
	}

	token := strings.Fields(text)[0][1:]
	name, target, addressed := strings.Cut(token, "@")
	if name == "" || !isCommandName(name) {
		return false
	}
	if !addressed {
		return true
	}
	return botName != "" && strings.EqualFold(target, strings.TrimPrefix(botName, "@"))
}

func isCommandName(name string) bool {
	for _, r := range name {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

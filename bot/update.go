package bot

import (
	"encoding/json"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
)

var ErrMalformedUpdate = errors.New("malformed update")

// Incoming is the part of an update the conversation cares about.
type Incoming struct {
	ChatId int64
	Text   string
}

// ParseUpdate extracts the chat and text of a message update. ok is false
// for updates that carry no text message.
func ParseUpdate(body []byte) (in Incoming, ok bool, err error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return Incoming{}, false, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Text == "" {
		return Incoming{}, false, nil
	}
	return Incoming{ChatId: msg.Chat.ID, Text: msg.Text}, true, nil
}

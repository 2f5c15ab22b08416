package core

import (
	"context"
	"errors"
)

// ErrGeneration marks any failure of the image generation backend.
var ErrGeneration = errors.New("image generation failed")

// Messenger delivers replies to a chat.
type Messenger interface {
	SendText(chatId int64, text string) error
	SendPhoto(chatId int64, path string) error
}

// ChatActionSender is implemented by messengers that can show a status such
// as "uploading photo" while a reply is being prepared.
type ChatActionSender interface {
	SendChatAction(chatId int64, action string) error
}

// Generator produces an image for the prompt and returns the path of the file.
// Errors wrap ErrGeneration.
type Generator interface {
	Generate(ctx context.Context, userId int64, prompt string, prefs Preferences) (string, error)
}

package holder

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"Painter/core"
	"Painter/lib/sl"
	"Painter/storage"
)

const (
	replyStart        = "Hello! Use the command /image to generate an image"
	replyImage        = "Send me a text and I will generate an image"
	replyHelp         = "Use the command /image to generate an image"
	replyWithout      = "What would you like not to be included in the generated image?"
	replyRatio        = "Choose your preferred image size ratio between "
	replyExcluded     = "I'll exclude that from the next images"
	replyInvalidRatio = "Invalid ratio. Choose between "
	replyRatioSet     = "Your preferred image size ratio is now "
	replyFailure      = "Something went wrong"

	actionUploadPhoto = "upload_photo"
	actionInterval    = 5 * time.Second
)

// Conversation turns inbound text into replies. What a free-text message
// means depends on the command the user armed last.
type Conversation struct {
	state     *StateManager
	messenger core.Messenger
	generator core.Generator
	log       *slog.Logger
}

func NewConversation(state *StateManager, messenger core.Messenger, generator core.Generator, log *slog.Logger) *Conversation {
	return &Conversation{
		state:     state,
		messenger: messenger,
		generator: generator,
		log:       log.With(sl.Module("conversation")),
	}
}

// OnMessage handles one message. Failures end up as a reply, never as a
// returned error.
func (c *Conversation) OnMessage(ctx context.Context, userId int64, text string) {
	c.log.With(sl.User(userId), sl.Text(text)).Info("incoming message")
	defer c.state.LogCommand(userId, text)

	if _, err := c.state.EnsureInitialized(userId); err != nil {
		c.fail(userId, "initializing user", err)
		return
	}
	c.dispatch(ctx, userId, text)
}

func (c *Conversation) dispatch(ctx context.Context, userId int64, text string) {
	cmd := core.ParseCommand(text)
	if cmd == core.None {
		c.handleArgument(ctx, userId, text)
		return
	}

	// the prompt goes out only once the command is armed
	if err := c.state.SetLastCommand(userId, cmd); err != nil {
		c.fail(userId, "arming command", err)
		return
	}
	c.reply(userId, commandReply(cmd))
}

func commandReply(cmd core.Command) string {
	switch cmd {
	case core.Start:
		return replyStart
	case core.Image:
		return replyImage
	case core.Without:
		return replyWithout
	case core.Ratio:
		return replyRatio + core.RatioLabels()
	default:
		return replyHelp
	}
}

func (c *Conversation) handleArgument(ctx context.Context, userId int64, text string) {
	armed, err := c.state.LastCommand(userId)
	if err != nil {
		c.fail(userId, "reading last command", err)
		return
	}

	switch armed {
	case core.Image:
		c.generate(ctx, userId, text)
	case core.Without:
		c.exclude(userId, text)
	case core.Ratio:
		c.setRatio(userId, text)
	default:
		c.dispatch(ctx, userId, core.Help.Literal())
	}
}

func (c *Conversation) generate(ctx context.Context, userId int64, prompt string) {
	prefs, err := c.state.Load(userId)
	if err != nil {
		c.fail(userId, "loading preferences", err)
		return
	}

	stop := c.showUploading(userId)
	path, err := c.generator.Generate(ctx, userId, prompt, prefs)
	stop()
	if err != nil {
		c.fail(userId, "generating image", err)
		return
	}

	if err := c.messenger.SendPhoto(userId, path); err != nil {
		c.log.With(sl.User(userId)).Error("sending photo", sl.Err(err))
	}
	// image stays armed; keep writing it so the stored mode is explicit
	if err := c.state.SetLastCommand(userId, core.Image); err != nil {
		c.log.With(sl.User(userId)).Error("re-arming image", sl.Err(err))
	}
}

// showUploading keeps the "uploading photo" status visible until stop is called.
func (c *Conversation) showUploading(userId int64) (stop func()) {
	sender, ok := c.messenger.(core.ChatActionSender)
	if !ok {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(actionInterval)
		defer ticker.Stop()
		for {
			if err := sender.SendChatAction(userId, actionUploadPhoto); err != nil {
				c.log.With(sl.User(userId)).Debug("sending chat action", sl.Err(err))
			}
			select {
			case <-ticker.C:
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func (c *Conversation) exclude(userId int64, text string) {
	err := c.state.Update(userId, func(state *storage.UserState) error {
		state.Preferences.NegativePrompt = strings.TrimSpace(text)
		state.Awaiting = core.Image
		return nil
	})
	if err != nil {
		c.fail(userId, "saving negative prompt", err)
		return
	}
	c.reply(userId, replyExcluded)
}

func (c *Conversation) setRatio(userId int64, text string) {
	var chosen core.AspectRatio
	err := c.state.Update(userId, func(state *storage.UserState) error {
		ratio, ok := core.ParseRatio(text)
		if !ok {
			return core.ErrInvalidRatio
		}
		chosen = ratio
		state.Preferences.AspectRatio = ratio.Label
		state.Awaiting = core.Image
		return nil
	})
	switch {
	case errors.Is(err, core.ErrInvalidRatio):
		c.reply(userId, replyInvalidRatio+core.RatioLabels())
	case err != nil:
		c.fail(userId, "saving aspect ratio", err)
	default:
		c.reply(userId, replyRatioSet+chosen.Label)
	}
}

func (c *Conversation) fail(userId int64, op string, err error) {
	log := c.log.With(sl.User(userId), slog.String("op", op))
	if storage.IsStorageError(err) {
		log.Error("storage failure", sl.Err(err))
	} else {
		log.Warn("request failed", sl.Err(err))
	}
	c.reply(userId, replyFailure)
}

func (c *Conversation) reply(userId int64, text string) {
	if err := c.messenger.SendText(userId, text); err != nil {
		c.log.With(sl.User(userId)).Error("sending message", sl.Err(err))
	}
}

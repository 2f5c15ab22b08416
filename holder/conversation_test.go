package holder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"Painter/core"
	"Painter/storage"
)

type sent struct {
	chatId int64
	text   string
	photo  string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sent
}

func (m *fakeMessenger) SendText(chatId int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sent{chatId: chatId, text: text})
	return nil
}

func (m *fakeMessenger) SendPhoto(chatId int64, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sent{chatId: chatId, photo: path})
	return nil
}

func (m *fakeMessenger) last(t *testing.T) sent {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("nothing was sent")
	}
	return m.sent[len(m.sent)-1]
}

type fakeGenerator struct {
	err     error
	calls   int
	prompts []string
	prefs   []core.Preferences
}

func (g *fakeGenerator) Generate(_ context.Context, userId int64, prompt string, prefs core.Preferences) (string, error) {
	g.calls++
	g.prompts = append(g.prompts, prompt)
	g.prefs = append(g.prefs, prefs)
	if g.err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrGeneration, g.err)
	}
	return fmt.Sprintf("users/%d/image.png", userId), nil
}

// brokenStorage fails saves on demand.
type brokenStorage struct {
	*storage.MemoryStorage
	failSaves bool
}

func (b *brokenStorage) SaveUserState(state *storage.UserState) error {
	if b.failSaves {
		return &storage.Error{Op: "saving state", UserId: state.UserId, Err: errors.New("disk full")}
	}
	return b.MemoryStorage.SaveUserState(state)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	store     storage.StateStorage
	state     *StateManager
	messenger *fakeMessenger
	generator *fakeGenerator
	conv      *Conversation
}

func newHarness(t *testing.T, store storage.StateStorage) *harness {
	t.Helper()
	if store == nil {
		store = storage.NewMemoryStorage()
	}
	h := &harness{
		store:     store,
		state:     NewStateManager(store, testLogger()),
		messenger: &fakeMessenger{},
		generator: &fakeGenerator{},
	}
	h.conv = NewConversation(h.state, h.messenger, h.generator, testLogger())
	t.Cleanup(h.state.Flush)
	return h
}

func (h *harness) send(texts ...string) {
	for _, text := range texts {
		h.conv.OnMessage(context.Background(), 100, text)
	}
}

func (h *harness) userState(t *testing.T) *storage.UserState {
	t.Helper()
	state, err := h.store.GetUserState(100)
	if err != nil || state == nil {
		t.Fatalf("GetUserState() = %+v, %v", state, err)
	}
	return state
}

func TestCommandsReplyAndArm(t *testing.T) {
	cases := []struct {
		text  string
		reply string
		armed core.Command
	}{
		{"/start", replyStart, core.Start},
		{"/image", replyImage, core.Image},
		{"/help", replyHelp, core.Help},
		{"/without", replyWithout, core.Without},
		{"/ratio", "Choose your preferred image size ratio between 1:1, 16:9, 9:16, 4:3, 3:4", core.Ratio},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			h := newHarness(t, nil)
			h.send(tc.text)
			if got := h.messenger.last(t).text; got != tc.reply {
				t.Fatalf("reply = %q, want %q", got, tc.reply)
			}
			if got := h.userState(t).Awaiting; got != tc.armed {
				t.Fatalf("armed = %q, want %q", got, tc.armed)
			}
		})
	}
}

func TestFirstContactInitializesOnce(t *testing.T) {
	h := newHarness(t, nil)
	created, err := h.state.EnsureInitialized(100)
	if err != nil || !created {
		t.Fatalf("first EnsureInitialized() = %v, %v", created, err)
	}
	if err := h.state.Save(100, core.Preferences{AspectRatio: "4:3"}); err != nil {
		t.Fatal(err)
	}
	created, err = h.state.EnsureInitialized(100)
	if err != nil || created {
		t.Fatalf("second EnsureInitialized() = %v, %v", created, err)
	}
	if got := h.userState(t).Preferences.AspectRatio; got != "4:3" {
		t.Fatalf("second init overwrote state: %q", got)
	}
}

func TestFirstMessageCreatesDefaults(t *testing.T) {
	h := newHarness(t, nil)
	h.send("hello there")
	state := h.userState(t)
	if state.Preferences != core.DefaultPreferences() {
		t.Fatalf("preferences = %+v", state.Preferences)
	}
}

func TestUnarmedTextFallsBackToHelp(t *testing.T) {
	h := newHarness(t, nil)
	for _, text := range []string{"hello", "what?", "/unknown"} {
		h.send(text)
		if got := h.messenger.last(t).text; got != replyHelp {
			t.Fatalf("reply to %q = %q, want help", text, got)
		}
		if got := h.userState(t).Awaiting; got != core.Help {
			t.Fatalf("armed = %q, want help", got)
		}
	}
	if h.generator.calls != 0 {
		t.Fatalf("generator called %d times", h.generator.calls)
	}
}

func TestStartArmedFallsBackToHelp(t *testing.T) {
	h := newHarness(t, nil)
	h.send("/start", "draw something")
	if got := h.messenger.last(t).text; got != replyHelp {
		t.Fatalf("reply = %q", got)
	}
}

func TestImageSuccess(t *testing.T) {
	h := newHarness(t, nil)
	h.send("/image", "a cat")
	last := h.messenger.last(t)
	if last.photo != "users/100/image.png" {
		t.Fatalf("last sent = %+v, want photo", last)
	}
	if h.generator.calls != 1 || h.generator.prompts[0] != "a cat" {
		t.Fatalf("generator calls = %d prompts = %v", h.generator.calls, h.generator.prompts)
	}
	if got := h.userState(t).Awaiting; got != core.Image {
		t.Fatalf("armed = %q", got)
	}

	// image mode is sticky
	h.send("a dog")
	if h.generator.calls != 2 {
		t.Fatalf("generator calls = %d, want 2", h.generator.calls)
	}
}

func TestImageFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, nil)
	h.send("/without", "blurry", "/image")
	before := *h.userState(t)

	h.generator.err = errors.New("exit status 1")
	h.send("a cat")

	if got := h.messenger.last(t).text; got != replyFailure {
		t.Fatalf("reply = %q, want %q", got, replyFailure)
	}
	after := h.userState(t)
	if after.Awaiting != before.Awaiting || after.Preferences != before.Preferences || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("state changed: before %+v after %+v", before, *after)
	}

	h.state.Flush()
	log, err := h.state.CommandLog(100)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 4 || log[3].Text != "a cat" {
		t.Fatalf("command log = %+v", log)
	}
}

func TestGeneratorReceivesPreferences(t *testing.T) {
	h := newHarness(t, nil)
	h.send("/ratio", "9:16", "/without", "  text, watermark  ", "a lighthouse")
	if h.generator.calls != 1 {
		t.Fatalf("generator calls = %d", h.generator.calls)
	}
	want := core.Preferences{AspectRatio: "9:16", NegativePrompt: "text, watermark"}
	if h.generator.prefs[0] != want {
		t.Fatalf("prefs = %+v, want %+v", h.generator.prefs[0], want)
	}
}

func TestWithoutSetsNegativePromptAndArmsImage(t *testing.T) {
	h := newHarness(t, nil)
	h.send("/without", "blurry")
	if got := h.messenger.last(t).text; got != replyExcluded {
		t.Fatalf("reply = %q", got)
	}
	state := h.userState(t)
	if state.Preferences.NegativePrompt != "blurry" || state.Awaiting != core.Image {
		t.Fatalf("state = %+v", state)
	}
}

func TestRatioValid(t *testing.T) {
	h := newHarness(t, nil)
	h.send("/ratio", "16:9")
	if got := h.messenger.last(t).text; got != "Your preferred image size ratio is now 16:9" {
		t.Fatalf("reply = %q", got)
	}
	state := h.userState(t)
	if state.Preferences.AspectRatio != "16:9" || state.Awaiting != core.Image {
		t.Fatalf("state = %+v", state)
	}
}

func TestRatioInvalidKeepsState(t *testing.T) {
	h := newHarness(t, nil)
	h.send("/ratio", "2:1")
	if got := h.messenger.last(t).text; got != "Invalid ratio. Choose between 1:1, 16:9, 9:16, 4:3, 3:4" {
		t.Fatalf("reply = %q", got)
	}
	state := h.userState(t)
	if state.Preferences.AspectRatio != "1:1" || state.Awaiting != core.Ratio {
		t.Fatalf("state = %+v", state)
	}

	// still armed for ratio
	h.send("4:3")
	if got := h.userState(t).Preferences.AspectRatio; got != "4:3" {
		t.Fatalf("ratio = %q", got)
	}
}

func TestStorageFailureRepliesGenerically(t *testing.T) {
	store := &brokenStorage{MemoryStorage: storage.NewMemoryStorage()}
	h := newHarness(t, store)
	h.send("/without")
	store.failSaves = true
	h.send("blurry")
	if got := h.messenger.last(t).text; got != replyFailure {
		t.Fatalf("reply = %q", got)
	}
	if got := h.userState(t).Preferences.NegativePrompt; got != "" {
		t.Fatalf("negative prompt = %q", got)
	}
}

func TestCommandNotArmedSendsOnlyFailure(t *testing.T) {
	store := &brokenStorage{MemoryStorage: storage.NewMemoryStorage()}
	h := newHarness(t, store)
	h.send("/start")
	store.failSaves = true
	h.send("/image")

	h.messenger.mu.Lock()
	got := append([]sent(nil), h.messenger.sent...)
	h.messenger.mu.Unlock()
	if len(got) != 2 || got[0].text != replyStart || got[1].text != replyFailure {
		t.Fatalf("sent = %+v, want start reply then failure only", got)
	}
	if got := h.userState(t).Awaiting; got != core.Start {
		t.Fatalf("awaiting = %q, want %q", got, core.Start)
	}
}

func TestCommandLogRecordsEveryMessage(t *testing.T) {
	h := newHarness(t, nil)
	texts := []string{"/start", "/image", "a cat", "/ratio", "bad", "1:1"}
	h.send(texts...)
	h.state.Flush()

	log, err := h.state.CommandLog(100)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != len(texts) {
		t.Fatalf("len(log) = %d, want %d", len(log), len(texts))
	}
	for i, rec := range log {
		if rec.Text != texts[i] {
			t.Errorf("log[%d] = %q, want %q", i, rec.Text, texts[i])
		}
	}
}

type actionMessenger struct {
	fakeMessenger
	actions chan string
}

func (m *actionMessenger) SendChatAction(_ int64, action string) error {
	select {
	case m.actions <- action:
	default:
	}
	return nil
}

type waitingGenerator struct {
	actions chan string
	seen    string
}

func (g *waitingGenerator) Generate(_ context.Context, userId int64, _ string, _ core.Preferences) (string, error) {
	select {
	case g.seen = <-g.actions:
	case <-time.After(2 * time.Second):
	}
	return fmt.Sprintf("users/%d/image.png", userId), nil
}

func TestUploadStatusShownDuringGeneration(t *testing.T) {
	actions := make(chan string, 4)
	messenger := &actionMessenger{actions: actions}
	generator := &waitingGenerator{actions: actions}
	state := NewStateManager(storage.NewMemoryStorage(), testLogger())
	defer state.Flush()

	conv := NewConversation(state, messenger, generator, testLogger())
	conv.OnMessage(context.Background(), 1, "/image")
	conv.OnMessage(context.Background(), 1, "a cat")

	if generator.seen != actionUploadPhoto {
		t.Fatalf("chat action = %q, want %q", generator.seen, actionUploadPhoto)
	}
	if got := messenger.last(t).photo; got != "users/1/image.png" {
		t.Fatalf("photo = %q", got)
	}
}

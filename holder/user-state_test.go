package holder

import (
	"sync"
	"testing"

	"Painter/core"
	"Painter/storage"
)

func TestLoadReturnsDefaultsForUnknownUser(t *testing.T) {
	sm := NewStateManager(storage.NewMemoryStorage(), testLogger())
	defer sm.Flush()

	prefs, err := sm.Load(1)
	if err != nil || prefs != core.DefaultPreferences() {
		t.Fatalf("Load() = %+v, %v", prefs, err)
	}
	cmd, err := sm.LastCommand(1)
	if err != nil || cmd != core.None {
		t.Fatalf("LastCommand() = %q, %v", cmd, err)
	}
}

func TestSaveReplacesWholePreferences(t *testing.T) {
	sm := NewStateManager(storage.NewMemoryStorage(), testLogger())
	defer sm.Flush()

	_ = sm.Save(1, core.Preferences{AspectRatio: "16:9", NegativePrompt: "blurry"})
	_ = sm.Save(1, core.Preferences{AspectRatio: "3:4"})
	prefs, _ := sm.Load(1)
	if prefs.NegativePrompt != "" || prefs.AspectRatio != "3:4" {
		t.Fatalf("prefs = %+v", prefs)
	}
}

func TestConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	sm := NewStateManager(storage.NewMemoryStorage(), testLogger())
	defer sm.Flush()
	if _, err := sm.EnsureInitialized(1); err != nil {
		t.Fatal(err)
	}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sm.Update(1, func(state *storage.UserState) error {
				state.Preferences.NegativePrompt += "x"
				return nil
			})
		}()
	}
	wg.Wait()

	prefs, _ := sm.Load(1)
	if len(prefs.NegativePrompt) != n {
		t.Fatalf("len(NegativePrompt) = %d, want %d", len(prefs.NegativePrompt), n)
	}
}

func TestUserLocksReleased(t *testing.T) {
	sm := NewStateManager(storage.NewMemoryStorage(), testLogger())
	defer sm.Flush()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(userId int64) {
			defer wg.Done()
			_ = sm.SetLastCommand(userId%10, core.Image)
			_, _ = sm.LastCommand(userId % 10)
		}(int64(i))
	}
	wg.Wait()

	sm.locksMu.Lock()
	defer sm.locksMu.Unlock()
	if len(sm.locks) != 0 {
		t.Fatalf("%d user locks left after all callers returned", len(sm.locks))
	}
}

func TestConcurrentReplacesKeepOneWriter(t *testing.T) {
	sm := NewStateManager(storage.NewMemoryStorage(), testLogger())
	defer sm.Flush()

	a := core.Preferences{AspectRatio: "16:9", NegativePrompt: "a"}
	b := core.Preferences{AspectRatio: "9:16", NegativePrompt: "b"}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = sm.Save(1, a) }()
	go func() { defer wg.Done(); _ = sm.Save(1, b) }()
	wg.Wait()

	got, _ := sm.Load(1)
	if got != a && got != b {
		t.Fatalf("prefs = %+v, want one of the writes", got)
	}
}

func TestLogCommandAfterFlushIsIgnored(t *testing.T) {
	store := storage.NewMemoryStorage()
	sm := NewStateManager(store, testLogger())
	sm.LogCommand(1, "/start")
	sm.Flush()
	sm.LogCommand(1, "late")
	sm.Flush()

	log, _ := store.GetCommandLog(1)
	if len(log) != 1 || log[0].Text != "/start" {
		t.Fatalf("log = %+v", log)
	}
}

// Package app_test contains unit tests for the app package.
package app_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchgate/internal/app"
	"github.com/JakeFAU/fetchgate/internal/config"
	"github.com/JakeFAU/fetchgate/internal/media"
	memoryStorage "github.com/JakeFAU/fetchgate/internal/storage/memory"
)

type sentFile struct {
	ChatID  string
	Path    string
	Caption string
	Content string
}

type fakeMessenger struct {
	mu      sync.Mutex
	texts   []string
	prompts []media.GatePrompt
	files   chan sentFile
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{files: make(chan sentFile, 4)}
}

func (m *fakeMessenger) SendText(_ context.Context, _ string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return nil
}

func (m *fakeMessenger) SendFile(_ context.Context, chatID, path, caption string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m.files <- sentFile{ChatID: chatID, Path: path, Caption: caption, Content: string(data)}
	return nil
}

func (m *fakeMessenger) SendGatePrompt(_ context.Context, _ string, prompt media.GatePrompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	return nil
}

func (m *fakeMessenger) promptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// fakeEngine answers probe calls with canned metadata and writes a file for
// fetch calls, mimicking yt-dlp's --print after_move:filepath output.
type fakeEngine struct {
	metadata string
}

func (f *fakeEngine) Run(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
	if slices.Contains(args, "-J") {
		return []byte(f.metadata), nil, nil
	}
	idx := slices.Index(args, "-o")
	path := strings.Replace(args[idx+1], "%(ext)s", "mp4", 1)
	if err := os.WriteFile(path, []byte("video"), 0o600); err != nil {
		return nil, []byte("ERROR: " + err.Error()), err
	}
	return []byte(path + "\n"), nil, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Fetcher.DownloadDir = t.TempDir()
	cfg.Telegram.BotToken = "123:abc"
	cfg.Telegram.WebhookSecret = "hook"
	cfg.Admission.AdministratorID = "1"
	cfg.Intake.RatePerMinute = 0
	return cfg
}

func postUpdate(t *testing.T, a *app.App, body string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/telegram/hook", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAppDeliversSmallVideoEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	messenger := newFakeMessenger()
	engine := &fakeEngine{metadata: `{"title":"Clip","filesize":1024}`}

	a, err := app.New(context.Background(), cfg, zap.NewNop(),
		app.WithMessenger(messenger),
		app.WithRunner(engine),
	)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Dispatcher().Run(ctx)
		close(done)
	}()

	postUpdate(t, a, `{"update_id":1,"message":{"from":{"id":5},"chat":{"id":5},"text":"look https://youtu.be/abc"}}`)

	select {
	case file := <-messenger.files:
		require.Equal(t, "5", file.ChatID)
		require.Equal(t, "Clip", file.Caption)
		require.Equal(t, "video", file.Content)
		require.Eventually(t, func() bool {
			_, statErr := os.Stat(file.Path)
			return os.IsNotExist(statErr)
		}, time.Second, 10*time.Millisecond, "artifact should be removed after delivery")
	case <-time.After(5 * time.Second):
		t.Fatal("video was not delivered")
	}

	cancel()
	<-done
	a.Drain(context.Background())
}

func TestAppGatesOversizedVideo(t *testing.T) {
	cfg := testConfig(t)
	messenger := newFakeMessenger()
	engine := &fakeEngine{metadata: `{"title":"Long","filesize":209715200}`}
	store := memoryStorage.NewEntitlementStore()

	a, err := app.New(context.Background(), cfg, zap.NewNop(),
		app.WithMessenger(messenger),
		app.WithRunner(engine),
		app.WithStore(store),
	)
	require.NoError(t, err)
	defer a.Close()

	postUpdate(t, a, `{"update_id":1,"message":{"from":{"id":9},"chat":{"id":9},"text":"https://youtu.be/long"}}`)
	a.Server().Wait()

	require.Equal(t, 1, messenger.promptCount())
	require.Equal(t, 1, a.Admission().Pending())
	a.Drain(context.Background())
}

func TestAppRequiresBotTokenWithoutMessenger(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telegram.BotToken = ""

	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "telegram")
}

func TestOpenStoreBackends(t *testing.T) {
	cfg := testConfig(t)

	store, closeStore, err := app.OpenStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, closeStore())
	require.NotNil(t, store)

	cfg.Storage.Backend = config.BackendBadger
	cfg.Storage.Badger.Path = filepath.Join(t.TempDir(), "badger")
	store, closeStore, err = app.OpenStore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	rec, err := store.SetAdminGranted(context.Background(), "7", true)
	require.NoError(t, err)
	require.True(t, rec.AdminGranted)
	require.NoError(t, closeStore())

	cfg.Storage.Backend = "redis"
	_, _, err = app.OpenStore(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "unknown storage backend")
}

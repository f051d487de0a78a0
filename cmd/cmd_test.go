package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchgate/internal/app"
	"github.com/JakeFAU/fetchgate/internal/config"
	"github.com/JakeFAU/fetchgate/internal/media"
	memoryStorage "github.com/JakeFAU/fetchgate/internal/storage/memory"
)

func stubRuntime(t *testing.T, cfg config.Config, store media.EntitlementStore) {
	t.Helper()
	prevLoad, prevLogger, prevStore := loadConfig, newLogger, openStore
	t.Cleanup(func() {
		loadConfig, newLogger, openStore = prevLoad, prevLogger, prevStore
	})

	loadConfig = func(string) (config.Config, error) { return cfg, nil }
	newLogger = func(bool) (*zap.Logger, error) { return zap.NewNop(), nil }
	openStore = func(context.Context, config.Config, *zap.Logger) (media.EntitlementStore, func() error, error) {
		return store, func() error { return nil }, nil
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Admission.AdministratorID = "1"
	return cfg
}

func TestAdminGrantRevokeAndShow(t *testing.T) {
	store := memoryStorage.NewEntitlementStore()
	stubRuntime(t, baseConfig(t), store)

	out, err := execute(t, "grant", "42")
	require.NoError(t, err)
	require.Contains(t, out, "user 42: admin_granted=true gate=0/3")

	rec, err := store.Get(context.Background(), "42")
	require.NoError(t, err)
	require.True(t, rec.AdminGranted)

	out, err = execute(t, "revoke", "42")
	require.NoError(t, err)
	require.Contains(t, out, "admin_granted=false")

	_, err = store.SetGateStep(context.Background(), "42", 2, true)
	require.NoError(t, err)
	out, err = execute(t, "show", "42")
	require.NoError(t, err)
	require.Contains(t, out, "gate=1/3")

	out, err = execute(t, "reset-gate", "42")
	require.NoError(t, err)
	require.Contains(t, out, "gate=0/3")
}

func TestAdminRequiresAdministratorID(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Admission.AdministratorID = ""
	stubRuntime(t, cfg, memoryStorage.NewEntitlementStore())

	_, err := execute(t, "grant", "42")
	require.ErrorContains(t, err, "administrator_id")
}

func TestAdminRequiresUserID(t *testing.T) {
	stubRuntime(t, baseConfig(t), memoryStorage.NewEntitlementStore())

	_, err := execute(t, "grant")
	require.Error(t, err)
}

func TestRegisterWebhook(t *testing.T) {
	var got map[string]any
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/setWebhook"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	defer api.Close()

	cfg := baseConfig(t)
	cfg.Fetcher.DownloadDir = t.TempDir()
	cfg.Telegram.BotToken = "123:abc"
	cfg.Telegram.APIBaseURL = api.URL
	cfg.Telegram.WebhookURL = "https://bot.example.com/"
	cfg.Telegram.WebhookSecret = "hook"

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, registerWebhook(context.Background(), a, cfg))
	require.Equal(t, "https://bot.example.com/telegram/hook", got["url"])
}

func TestRegisterWebhookSkippedWithoutURL(t *testing.T) {
	cfg := baseConfig(t)
	require.NoError(t, registerWebhook(context.Background(), &app.App{}, cfg))
}

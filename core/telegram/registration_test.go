package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/tgrelay/core/config"
)

const testToken = "123456:ABC-def"

type apiCall struct {
	method string
	params map[string]any
}

func newFakeAPI(t *testing.T, replies map[string]string) (*httptest.Server, func() []apiCall) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []apiCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		body, _ := io.ReadAll(r.Body)
		params := map[string]any{}
		_ = json.Unmarshal(body, &params)
		mu.Lock()
		calls = append(calls, apiCall{method: method, params: params})
		mu.Unlock()
		reply, ok := replies[method]
		if !ok {
			reply = `{"ok":true,"result":true}`
		}
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []apiCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]apiCall(nil), calls...)
	}
}

func newOfflineBot(t *testing.T, apiURL string) *tele.Bot {
	t.Helper()
	bot, err := tele.NewBot(tele.Settings{URL: apiURL, Token: testToken, Offline: true})
	if err != nil {
		t.Fatalf("new bot: %v", err)
	}
	return bot
}

func TestWebhookURL(t *testing.T) {
	cfg := &coreconfig.Config{}
	cfg.Telegram.Token = testToken
	cfg.Webhook.PublicURL = "https://relay.example/"
	cfg.Webhook.Aliases = []string{"/api/index", "/"}

	got, err := WebhookURL(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://relay.example/api/index/"+testToken {
		t.Fatalf("url = %s", got)
	}

	cfg.Webhook.Aliases = []string{"/"}
	if got, _ := WebhookURL(cfg); got != "https://relay.example/"+testToken {
		t.Fatalf("url = %s", got)
	}

	cfg.Webhook.PublicURL = ""
	if _, err := WebhookURL(cfg); err == nil {
		t.Fatal("expected error without public url")
	}
}

func TestSetWebhook(t *testing.T) {
	srv, calls := newFakeAPI(t, nil)
	cfg := &coreconfig.Config{}
	cfg.Telegram.Token = testToken
	cfg.Webhook.PublicURL = "https://relay.example"
	cfg.Webhook.SecretToken = "s3cret"

	if err := SetWebhook(context.Background(), newOfflineBot(t, srv.URL), cfg, false); err != nil {
		t.Fatalf("set webhook: %v", err)
	}
	got := calls()
	if len(got) != 1 || got[0].method != "setWebhook" {
		t.Fatalf("calls = %+v", got)
	}
	if got[0].params["url"] != "https://relay.example/"+testToken {
		t.Fatalf("url param = %v", got[0].params["url"])
	}
	if got[0].params["secret_token"] != "s3cret" {
		t.Fatalf("secret param = %v", got[0].params["secret_token"])
	}
}

func TestSetWebhookAPIErrorIsRedacted(t *testing.T) {
	srv, _ := newFakeAPI(t, map[string]string{
		"setWebhook": `{"ok":false,"error_code":400,"description":"Bad Request: bad webhook: 123456:ABC-def"}`,
	})
	cfg := &coreconfig.Config{}
	cfg.Telegram.Token = testToken
	cfg.Webhook.PublicURL = "https://relay.example"

	err := SetWebhook(context.Background(), newOfflineBot(t, srv.URL), cfg, false)
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), testToken) {
		t.Fatalf("token leaked: %v", err)
	}
}

func TestDeleteWebhook(t *testing.T) {
	srv, calls := newFakeAPI(t, nil)
	if err := DeleteWebhook(context.Background(), newOfflineBot(t, srv.URL), true); err != nil {
		t.Fatalf("delete webhook: %v", err)
	}
	got := calls()
	if len(got) != 1 || got[0].method != "deleteWebhook" {
		t.Fatalf("calls = %+v", got)
	}
	if got[0].params["drop_pending_updates"] != true {
		t.Fatalf("drop param = %v", got[0].params["drop_pending_updates"])
	}
}

func TestGetWebhookInfo(t *testing.T) {
	srv, _ := newFakeAPI(t, map[string]string{
		"getWebhookInfo": `{"ok":true,"result":{"url":"https://relay.example/123456:ABC-def","has_custom_certificate":false,"pending_update_count":3,"last_error_message":"Connection refused"}}`,
	})
	info, err := GetWebhookInfo(context.Background(), newOfflineBot(t, srv.URL))
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.URL != "https://relay.example/<token>" {
		t.Fatalf("url = %s", info.URL)
	}
	if info.PendingUpdates != 3 || info.LastErrorMessage != "Connection refused" {
		t.Fatalf("info = %+v", info)
	}
}

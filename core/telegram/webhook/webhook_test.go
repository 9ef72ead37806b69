package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/tgrelay/core/journal"
	mw "github.com/m3rciful/tgrelay/core/telegram/middleware"
	"github.com/m3rciful/tgrelay/core/telegram/sender"
	"github.com/m3rciful/tgrelay/core/telegram/update"
)

const testToken = "123456:ABC-def"

type call struct {
	chatID string
	text   string
}

type fakeReplier struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeReplier) Reply(_ context.Context, chatID update.ChatID, text string) error {
	raw, _ := json.Marshal(chatID)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{chatID: string(raw), text: text})
	return f.err
}

func (f *fakeReplier) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
	err     error
}

func (j *fakeJournal) Record(_ context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return j.err
}

func newTestRouter(t *testing.T, opts Options) http.Handler {
	t.Helper()
	if opts.Token == "" {
		opts.Token = testToken
	}
	h, err := NewRouter(opts)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return h
}

func do(h http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUpdateEchoesMessage(t *testing.T) {
	rep := &fakeReplier{}
	h := newTestRouter(t, Options{Replier: rep})

	rec := do(h, http.MethodPost, "/"+testToken, `{"message":{"chat":{"id":42},"text":"hello"}}`)
	if rec.Code != http.StatusOK || rec.Body.String() != AckBody {
		t.Fatalf("response = %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %s", ct)
	}
	calls := rep.snapshot()
	if len(calls) != 1 || calls[0].chatID != "42" || calls[0].text != "hello" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestUpdateWithoutMessageIsIgnored(t *testing.T) {
	rep := &fakeReplier{}
	h := newTestRouter(t, Options{Replier: rep})

	rec := do(h, http.MethodPost, "/"+testToken, `{"update_id":1}`)
	if rec.Code != http.StatusOK || rec.Body.String() != AckBody {
		t.Fatalf("response = %d %q", rec.Code, rec.Body.String())
	}
	if n := len(rep.snapshot()); n != 0 {
		t.Fatalf("outbound calls = %d, want 0", n)
	}
}

func TestUpdateWithoutTextRepliesWithEmptyText(t *testing.T) {
	rep := &fakeReplier{}
	h := newTestRouter(t, Options{Replier: rep})

	rec := do(h, http.MethodPost, "/"+testToken, `{"message":{"chat":{"id":"@news"}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	calls := rep.snapshot()
	if len(calls) != 1 || calls[0].chatID != `"@news"` || calls[0].text != "" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestNonStringTextIsEchoed(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{name: "number", text: `123`, want: "123"},
		{name: "bool", text: `true`, want: "true"},
		{name: "object", text: `{"a":1}`, want: `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rep := &fakeReplier{}
			h := newTestRouter(t, Options{Replier: rep})
			body := `{"message":{"chat":{"id":42},"text":` + tc.text + `}}`
			rec := do(h, http.MethodPost, "/"+testToken, body)
			if rec.Code != http.StatusOK || rec.Body.String() != AckBody {
				t.Fatalf("response = %d %q", rec.Code, rec.Body.String())
			}
			calls := rep.snapshot()
			if len(calls) != 1 || calls[0].chatID != "42" || calls[0].text != tc.want {
				t.Fatalf("calls = %+v", calls)
			}
		})
	}
}

func TestConcurrentUpdatesReplyToOwnChat(t *testing.T) {
	const n = 32
	rep := &fakeReplier{}
	h := newTestRouter(t, Options{Replier: rep})

	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"update_id":%d,"message":{"chat":{"id":%d},"text":"msg-%d"}}`, i, i, i)
			rec := do(h, http.MethodPost, "/"+testToken, body)
			if rec.Code != http.StatusOK {
				t.Errorf("update %d: code = %d", i, rec.Code)
			}
		}(i)
	}
	wg.Wait()

	calls := rep.snapshot()
	if len(calls) != n {
		t.Fatalf("outbound calls = %d, want %d", len(calls), n)
	}
	seen := make(map[string]string, n)
	for _, c := range calls {
		if _, dup := seen[c.chatID]; dup {
			t.Fatalf("chat %s replied twice", c.chatID)
		}
		seen[c.chatID] = c.text
	}
	for i := 1; i <= n; i++ {
		id := fmt.Sprint(i)
		if got, want := seen[id], "msg-"+id; got != want {
			t.Fatalf("chat %s text = %q, want %q", id, got, want)
		}
	}
}

func TestSamePayloadTwiceSendsTwice(t *testing.T) {
	rep := &fakeReplier{}
	h := newTestRouter(t, Options{Replier: rep})

	body := `{"update_id":9,"message":{"chat":{"id":7},"text":"again"}}`
	for i := 0; i < 2; i++ {
		if rec := do(h, http.MethodPost, "/"+testToken, body); rec.Code != http.StatusOK {
			t.Fatalf("attempt %d code = %d", i, rec.Code)
		}
	}
	calls := rep.snapshot()
	if len(calls) != 2 || calls[0] != calls[1] {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestOutboundFailureStillAcknowledged(t *testing.T) {
	rep := &fakeReplier{err: errors.New("network down")}
	j := &fakeJournal{err: errors.New("db down")}
	h := newTestRouter(t, Options{Replier: rep, Journal: j})

	rec := do(h, http.MethodPost, "/"+testToken, `{"message":{"chat":{"id":1},"text":"x"}}`)
	if rec.Code != http.StatusOK || rec.Body.String() != AckBody {
		t.Fatalf("response = %d %q", rec.Code, rec.Body.String())
	}
	if len(j.entries) != 1 || j.entries[0].Outcome != journal.OutcomeFailed || j.entries[0].ErrKind != "unknown" {
		t.Fatalf("journal = %+v", j.entries)
	}
}

func TestJournalRecordsSuccess(t *testing.T) {
	j := &fakeJournal{}
	h := newTestRouter(t, Options{Replier: &fakeReplier{}, Journal: j})

	do(h, http.MethodPost, "/"+testToken, `{"update_id":5,"message":{"chat":{"id":-100},"text":"x"}}`)
	if len(j.entries) != 1 {
		t.Fatalf("entries = %d", len(j.entries))
	}
	e := j.entries[0]
	if e.UpdateID != 5 || e.ChatID != "-100" || e.Outcome != journal.OutcomeSent || e.ErrKind != "" {
		t.Fatalf("entry = %+v", e)
	}
}

func TestMalformedBodies(t *testing.T) {
	cases := []struct {
		name string
		body string
		code string
	}{
		{name: "invalid json", body: `{"message":`, code: CodeMalformedUpdate},
		{name: "array", body: `[]`, code: CodeMalformedUpdate},
		{name: "empty", body: ``, code: CodeMalformedUpdate},
		{name: "chat not object", body: `{"message":{"chat":5}}`, code: CodeMissingChatID},
		{name: "missing chat", body: `{"message":{"text":"hi"}}`, code: CodeMissingChatID},
		{name: "null chat id", body: `{"message":{"chat":{"id":null}}}`, code: CodeMissingChatID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rep := &fakeReplier{}
			h := newTestRouter(t, Options{Replier: rep})
			rec := do(h, http.MethodPost, "/"+testToken, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("code = %d", rec.Code)
			}
			var resp errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.OK || resp.Error != tc.code {
				t.Fatalf("response = %+v, want code %s", resp, tc.code)
			}
			if n := len(rep.snapshot()); n != 0 {
				t.Fatalf("outbound calls = %d", n)
			}
		})
	}
}

func TestOversizedBodyIsMalformed(t *testing.T) {
	rep := &fakeReplier{}
	h := newTestRouter(t, Options{Replier: rep, MaxBodyBytes: 16})

	rec := do(h, http.MethodPost, "/"+testToken, `{"message":{"chat":{"id":42},"text":"hello"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
	if len(rep.snapshot()) != 0 {
		t.Fatal("no outbound call expected")
	}
}

func TestWrongTokenIsNotFound(t *testing.T) {
	rep := &fakeReplier{}
	h := newTestRouter(t, Options{Replier: rep})

	for _, target := range []string{"/wrong", "/api/index/wrong", "/" + testToken + "x", "/api/" + testToken} {
		rec := do(h, http.MethodPost, target, `{"message":{"chat":{"id":1}}}`)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: code = %d", target, rec.Code)
		}
	}
	if len(rep.snapshot()) != 0 {
		t.Fatal("no outbound call expected")
	}
}

func TestGetOnWebhookPathIsNotFound(t *testing.T) {
	h := newTestRouter(t, Options{Replier: &fakeReplier{}})
	if rec := do(h, http.MethodGet, "/"+testToken, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h := newTestRouter(t, Options{Replier: &fakeReplier{}})

	for _, target := range []string{"/", "/api/index", "/api/index/", "/?foo=bar", "/api/index?x=1"} {
		rec := do(h, http.MethodGet, target, "ignored body")
		if rec.Code != http.StatusOK || rec.Body.String() != HealthBody {
			t.Fatalf("%s: response = %d %q", target, rec.Code, rec.Body.String())
		}
	}
	if rec := do(h, http.MethodHead, "/", ""); rec.Code != http.StatusOK {
		t.Fatalf("HEAD code = %d", rec.Code)
	}
}

func TestAliasRoutes(t *testing.T) {
	rep := &fakeReplier{}
	h := newTestRouter(t, Options{Replier: rep, Aliases: []string{"/hooks"}})

	if rec := do(h, http.MethodPost, "/hooks/"+testToken, `{"message":{"chat":{"id":3},"text":"a"}}`); rec.Code != http.StatusOK {
		t.Fatalf("alias code = %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/"+testToken, `{"message":{"chat":{"id":3},"text":"a"}}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unmounted root code = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/hooks", ""); rec.Body.String() != HealthBody {
		t.Fatalf("alias health = %q", rec.Body.String())
	}
	if len(rep.snapshot()) != 1 {
		t.Fatalf("calls = %d", len(rep.snapshot()))
	}
}

func TestSecretTokenHeader(t *testing.T) {
	rep := &fakeReplier{}
	h := newTestRouter(t, Options{Replier: rep, SecretToken: "s3cret"})
	body := `{"message":{"chat":{"id":1},"text":"x"}}`

	if rec := do(h, http.MethodPost, "/"+testToken, body); rec.Code != http.StatusNotFound {
		t.Fatalf("missing header code = %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/"+testToken, body, mw.SecretTokenHeader, "s3cret"); rec.Code != http.StatusOK {
		t.Fatalf("valid header code = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/", ""); rec.Code != http.StatusOK {
		t.Fatalf("health must not require the secret, code = %d", rec.Code)
	}
	if len(rep.snapshot()) != 1 {
		t.Fatalf("calls = %d", len(rep.snapshot()))
	}
}

func TestNewRouterValidation(t *testing.T) {
	if _, err := NewRouter(Options{Replier: &fakeReplier{}}); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := NewRouter(Options{Token: testToken}); err == nil {
		t.Fatal("expected error for nil replier")
	}
}

// TestEndToEndOutboundPayload runs the router against a fake Bot API and checks
// the exact bytes relayed.
func TestEndToEndOutboundPayload(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
		paths  []string
	)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(bytes.TrimSpace(b)))
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer api.Close()

	d, err := sender.New(sender.Options{Token: testToken, APIURL: api.URL, Timeout: time.Second, Prefix: "You said: "})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(newTestRouter(t, Options{Replier: d}))
	defer srv.Close()

	post := func(target, body string) (int, string) {
		resp, err := http.Post(srv.URL+target, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	code, body := post("/api/index/"+testToken, `{"message":{"chat":{"id":42},"text":"hello"}}`)
	if code != http.StatusOK || body != "ok" {
		t.Fatalf("response = %d %q", code, body)
	}
	code, body = post("/"+testToken, `{"update_id":1}`)
	if code != http.StatusOK || body != "ok" {
		t.Fatalf("response = %d %q", code, body)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 {
		t.Fatalf("outbound calls = %d, want 1", len(bodies))
	}
	if bodies[0] != `{"chat_id":42,"text":"You said: hello"}` {
		t.Fatalf("outbound payload = %s", bodies[0])
	}
	if paths[0] != "/bot"+testToken+"/sendMessage" {
		t.Fatalf("outbound path = %s", paths[0])
	}
}

package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type memoryTokens struct {
	mu     sync.Mutex
	tokens map[uint64]NotificationToken
}

func newMemoryTokens() *memoryTokens {
	return &memoryTokens{tokens: make(map[uint64]NotificationToken)}
}

func (m *memoryTokens) SaveToken(_ context.Context, token NotificationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.FID] = token
	return nil
}

func (m *memoryTokens) Token(_ context.Context, fid uint64) (*NotificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[fid]
	if !ok {
		return nil, nil
	}
	return &token, nil
}

func (m *memoryTokens) DeleteToken(_ context.Context, fid uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, fid)
	return nil
}

type pushEndpoint struct {
	mu         sync.Mutex
	deliveries int
	respond    func() string
	srv        *httptest.Server
}

func newPushEndpoint(t *testing.T) *pushEndpoint {
	t.Helper()
	p := &pushEndpoint{respond: func() string {
		return `{"result":{"successfulTokens":["tok-1"],"invalidTokens":[],"rateLimitedTokens":[]}}`
	}}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.deliveries++
		body := p.respond()
		p.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *pushEndpoint) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deliveries
}

func newTestDispatcher(t *testing.T, tokens TokenStore) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(tokens, "https://mint.example/home", time.Hour, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

func seedToken(t *testing.T, tokens TokenStore, fid uint64, url string) {
	t.Helper()
	err := tokens.SaveToken(context.Background(), NotificationToken{
		FID: fid, Token: "tok-1", URL: url, SavedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed token: %v", err)
	}
}

func TestSendDelivers(t *testing.T) {
	endpoint := newPushEndpoint(t)
	tokens := newMemoryTokens()
	seedToken(t, tokens, 123, endpoint.srv.URL)
	d := newTestDispatcher(t, tokens)

	result, err := d.Send(context.Background(), 123, "welcome-123", "Hi", "Body", "https://mint.example")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !result.Delivered {
		t.Fatalf("expected delivery, got %+v", result)
	}
	if endpoint.count() != 1 {
		t.Fatalf("expected one POST, got %d", endpoint.count())
	}
}

func TestSendWithoutTokenIsQuiet(t *testing.T) {
	d := newTestDispatcher(t, newMemoryTokens())

	result, err := d.Send(context.Background(), 999, "welcome-999", "Hi", "Body", "")
	if err != nil {
		t.Fatalf("missing token must not error: %v", err)
	}
	if result.Delivered || result.Deduplicated {
		t.Fatalf("nothing should have happened, got %+v", result)
	}
}

func TestSendDeduplicatesWithinWindow(t *testing.T) {
	endpoint := newPushEndpoint(t)
	tokens := newMemoryTokens()
	seedToken(t, tokens, 123, endpoint.srv.URL)
	d := newTestDispatcher(t, tokens)

	if _, err := d.Send(context.Background(), 123, "welcome-123", "Hi", "Body", ""); err != nil {
		t.Fatalf("first send: %v", err)
	}
	result, err := d.Send(context.Background(), 123, "welcome-123", "Hi", "Body", "")
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if !result.Deduplicated || result.Delivered {
		t.Fatalf("expected dedup, got %+v", result)
	}
	if endpoint.count() != 1 {
		t.Fatalf("dedup must suppress the POST, got %d", endpoint.count())
	}

	// A different notification identity for the same recipient still goes out.
	result, err = d.Send(context.Background(), 123, "eligibility-123", "Hi", "Body", "")
	if err != nil {
		t.Fatalf("third send: %v", err)
	}
	if !result.Delivered {
		t.Fatalf("distinct identity must deliver, got %+v", result)
	}
}

func TestSendAgainAfterWindowExpires(t *testing.T) {
	endpoint := newPushEndpoint(t)
	tokens := newMemoryTokens()
	seedToken(t, tokens, 123, endpoint.srv.URL)
	d := newTestDispatcher(t, tokens)

	now := time.Now()
	d.nowFn = func() time.Time { return now }

	if _, err := d.Send(context.Background(), 123, "welcome-123", "Hi", "Body", ""); err != nil {
		t.Fatalf("first send: %v", err)
	}
	d.nowFn = func() time.Time { return now.Add(2 * time.Hour) }

	result, err := d.Send(context.Background(), 123, "welcome-123", "Hi", "Body", "")
	if err != nil {
		t.Fatalf("send after window: %v", err)
	}
	if !result.Delivered {
		t.Fatalf("expired window must allow a resend, got %+v", result)
	}
	if endpoint.count() != 2 {
		t.Fatalf("expected two POSTs, got %d", endpoint.count())
	}
}

func TestSendDeletesInvalidToken(t *testing.T) {
	endpoint := newPushEndpoint(t)
	endpoint.respond = func() string {
		return `{"result":{"successfulTokens":[],"invalidTokens":["tok-1"],"rateLimitedTokens":[]}}`
	}
	tokens := newMemoryTokens()
	seedToken(t, tokens, 123, endpoint.srv.URL)
	d := newTestDispatcher(t, tokens)

	result, err := d.Send(context.Background(), 123, "welcome-123", "Hi", "Body", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !result.TokenInvalid {
		t.Fatalf("expected invalid token result, got %+v", result)
	}
	stored, err := tokens.Token(context.Background(), 123)
	if err != nil {
		t.Fatalf("token lookup: %v", err)
	}
	if stored != nil {
		t.Fatal("invalid token must be deleted before Send returns")
	}
}

func TestSendReportsRateLimit(t *testing.T) {
	endpoint := newPushEndpoint(t)
	endpoint.respond = func() string {
		return `{"result":{"successfulTokens":[],"invalidTokens":[],"rateLimitedTokens":["tok-1"]}}`
	}
	tokens := newMemoryTokens()
	seedToken(t, tokens, 123, endpoint.srv.URL)
	d := newTestDispatcher(t, tokens)

	result, err := d.Send(context.Background(), 123, "welcome-123", "Hi", "Body", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !result.RateLimited || result.Delivered {
		t.Fatalf("expected rate limited result, got %+v", result)
	}

	// Rate limiting must not poison the dedup ledger; a retry can deliver.
	endpoint.respond = func() string {
		return `{"result":{"successfulTokens":["tok-1"],"invalidTokens":[],"rateLimitedTokens":[]}}`
	}
	result, err = d.Send(context.Background(), 123, "welcome-123", "Hi", "Body", "")
	if err != nil {
		t.Fatalf("retry send: %v", err)
	}
	if !result.Delivered {
		t.Fatalf("retry after rate limit must deliver, got %+v", result)
	}
}

func TestConvenienceSendersUseStableIdentity(t *testing.T) {
	endpoint := newPushEndpoint(t)
	tokens := newMemoryTokens()
	seedToken(t, tokens, 123, endpoint.srv.URL)
	d := newTestDispatcher(t, tokens)

	if _, err := d.SendAllowlistWelcome(context.Background(), 123); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	result, err := d.SendAllowlistWelcome(context.Background(), 123)
	if err != nil {
		t.Fatalf("second welcome: %v", err)
	}
	if !result.Deduplicated {
		t.Fatalf("repeat welcome must deduplicate, got %+v", result)
	}
}

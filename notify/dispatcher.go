package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"mintgate/observability"
)

const defaultDedupWindow = 24 * time.Hour

// NotificationToken is the per-user push credential issued by the Farcaster
// client when the miniapp is added or notifications are enabled.
type NotificationToken struct {
	FID     uint64    `json:"fid"`
	Token   string    `json:"token"`
	URL     string    `json:"url"`
	SavedAt time.Time `json:"savedAt"`
}

// TokenStore is the narrow key-value surface the dispatcher needs. Token
// returns (nil, nil) when no token is stored for the fid.
type TokenStore interface {
	SaveToken(ctx context.Context, token NotificationToken) error
	Token(ctx context.Context, fid uint64) (*NotificationToken, error)
	DeleteToken(ctx context.Context, fid uint64) error
}

// Result reports the externally observed outcome of one Send.
type Result struct {
	// Delivered means the push endpoint accepted the token.
	Delivered bool
	// Deduplicated means an identical notification identity was already
	// delivered to this recipient within the dedup window; nothing was sent.
	Deduplicated bool
	// TokenInvalid means the endpoint rejected the stored token; the token
	// has already been deleted by the time Send returns.
	TokenInvalid bool
	// RateLimited means the endpoint throttled the token. The dispatcher
	// never retries; retrying is the caller's decision.
	RateLimited bool
}

// payload is the Farcaster notification body posted to the stored callback URL.
type payload struct {
	NotificationID string   `json:"notificationId"`
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	TargetURL      string   `json:"targetUrl"`
	Tokens         []string `json:"tokens"`
}

type sendResponse struct {
	Result struct {
		SuccessfulTokens  []string `json:"successfulTokens"`
		InvalidTokens     []string `json:"invalidTokens"`
		RateLimitedTokens []string `json:"rateLimitedTokens"`
	} `json:"result"`
}

// Dispatcher sends push notifications with at-most-one effective delivery per
// (notification identity, recipient) inside the dedup window. Stale tokens are
// deleted synchronously when the push endpoint reports them invalid.
type Dispatcher struct {
	tokens  TokenStore
	client  *http.Client
	homeURL string
	window  time.Duration
	logger  *slog.Logger
	nowFn   func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

// NewDispatcher constructs a dispatcher. homeURL is the default tap target for
// the convenience senders.
func NewDispatcher(tokens TokenStore, homeURL string, window time.Duration, logger *slog.Logger) (*Dispatcher, error) {
	if tokens == nil {
		return nil, errors.New("notify: token store required")
	}
	if window <= 0 {
		window = defaultDedupWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		tokens:  tokens,
		client:  &http.Client{Timeout: 10 * time.Second},
		homeURL: homeURL,
		window:  window,
		logger:  logger,
		nowFn:   time.Now,
		sent:    make(map[string]time.Time),
	}, nil
}

// Send posts one notification to fid's stored callback URL. A missing token is
// not an error; the result simply reports nothing was delivered.
func (d *Dispatcher) Send(ctx context.Context, fid uint64, notificationID, title, body, targetURL string) (Result, error) {
	token, err := d.tokens.Token(ctx, fid)
	if err != nil {
		observability.Gateway().RecordNotification("error")
		return Result{}, fmt.Errorf("notify: load token for fid %d: %w", fid, err)
	}
	if token == nil {
		d.logger.Debug("no notification token", "fid", fid)
		return Result{}, nil
	}

	dedupKey := fmt.Sprintf("%s:%d", notificationID, fid)
	if d.alreadySent(dedupKey) {
		observability.Gateway().RecordNotification("deduplicated")
		return Result{Deduplicated: true}, nil
	}

	buf, err := json.Marshal(payload{
		NotificationID: notificationID,
		Title:          title,
		Body:           body,
		TargetURL:      targetURL,
		Tokens:         []string{token.Token},
	})
	if err != nil {
		return Result{}, fmt.Errorf("notify: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, token.URL, bytes.NewReader(buf))
	if err != nil {
		return Result{}, fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		observability.Gateway().RecordNotification("error")
		return Result{}, fmt.Errorf("notify: post notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.Gateway().RecordNotification("error")
		return Result{}, fmt.Errorf("notify: push endpoint returned status %d", resp.StatusCode)
	}

	var decoded sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		observability.Gateway().RecordNotification("error")
		return Result{}, fmt.Errorf("notify: decode push response: %w", err)
	}

	var result Result
	switch {
	case contains(decoded.Result.InvalidTokens, token.Token):
		result.TokenInvalid = true
		// Self-heal immediately so the next send does not reuse a dead token.
		if err := d.tokens.DeleteToken(ctx, fid); err != nil {
			d.logger.Error("delete invalid notification token", "fid", fid, "error", err)
		}
		observability.Gateway().RecordNotification("token_invalid")
	case contains(decoded.Result.RateLimitedTokens, token.Token):
		result.RateLimited = true
		observability.Gateway().RecordNotification("rate_limited")
	default:
		result.Delivered = true
		d.markSent(dedupKey)
		observability.Gateway().RecordNotification("delivered")
	}
	return result, nil
}

// SendEligibilityResult notifies fid about a completed eligibility check. The
// notification identity is stable per recipient so repeat checks inside the
// dedup window collapse into one delivery.
func (d *Dispatcher) SendEligibilityResult(ctx context.Context, fid uint64, eligible bool) (Result, error) {
	title := "Eligibility Check Complete"
	body := "Check your scores to see what's needed to become eligible."
	if eligible {
		title = "You're Eligible!"
		body = "You meet the allowlist requirements. Join now!"
	}
	id := fmt.Sprintf("eligibility-result-%d", fid)
	return d.Send(ctx, fid, id, title, body, d.homeURL)
}

// SendAllowlistWelcome notifies fid that their address was committed to the
// allowlist.
func (d *Dispatcher) SendAllowlistWelcome(ctx context.Context, fid uint64) (Result, error) {
	id := fmt.Sprintf("allowlist-welcome-%d", fid)
	body := "You've been added to the allowlist. Stay tuned for mint announcements."
	return d.Send(ctx, fid, id, "Welcome to the Allowlist!", body, d.homeURL)
}

func (d *Dispatcher) alreadySent(key string) bool {
	now := d.nowFn()
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, at := range d.sent {
		if now.Sub(at) >= d.window {
			delete(d.sent, k)
		}
	}
	at, ok := d.sent[key]
	return ok && now.Sub(at) < d.window
}

func (d *Dispatcher) markSent(key string) {
	d.mu.Lock()
	d.sent[key] = d.nowFn()
	d.mu.Unlock()
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

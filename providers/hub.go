package providers

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultHubBaseURL is a public Farcaster hub HTTP endpoint.
const DefaultHubBaseURL = "https://hub-api.neynar.com"

// HubClient answers app key registration queries against a Farcaster hub.
type HubClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHubClient(baseURL, apiKey string) *HubClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultHubBaseURL
	}
	return &HubClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// VerifyAppKey reports whether key is an active on-chain signer for fid. A
// hub answer of "not found" means the key is not registered; transport or
// server failures are returned as errors so callers can distinguish an outage
// from a rejection.
func (c *HubClient) VerifyAppKey(ctx context.Context, fid uint64, key ed25519.PublicKey) (bool, error) {
	query := url.Values{}
	query.Set("fid", strconv.FormatUint(fid, 10))
	query.Set("signer", "0x"+hex.EncodeToString(key))
	endpoint := fmt.Sprintf("%s/v1/onChainSignersByFid?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("hub: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("hub: query signer: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusNotFound:
		// Hubs answer unknown fid/signer combinations with a not_found error.
		return false, nil
	default:
		return false, fmt.Errorf("hub: signer request failed: status=%d", resp.StatusCode)
	}

	var decoded struct {
		SignerEventBody struct {
			Key       string `json:"key"`
			EventType string `json:"eventType"`
		} `json:"signerEventBody"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false, fmt.Errorf("hub: decode signer response: %w", err)
	}
	if decoded.SignerEventBody.Key == "" {
		return false, nil
	}
	// A removed signer still appears in the log with a remove event type.
	return decoded.SignerEventBody.EventType != "SIGNER_EVENT_TYPE_REMOVE", nil
}

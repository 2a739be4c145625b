package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultEthosBaseURL is the production Ethos reputation API.
const DefaultEthosBaseURL = "https://api.ethos.network/api/v1"

// EthosClient fetches credibility scores keyed directly by wallet address.
//
// Contract shared by every provider client in this package: a reachable
// provider with no opinion about the subject (404, empty result set) returns
// (nil, nil); transport failures, unexpected statuses, and malformed bodies
// return (nil, error). Clients never retry; retry policy belongs to callers.
type EthosClient struct {
	baseURL  string
	clientID string
	http     *http.Client
}

// NewEthosClient constructs a client. clientID is sent as the X-Ethos-Client
// identifier the API asks integrators to supply.
func NewEthosClient(baseURL, clientID string) *EthosClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultEthosBaseURL
	}
	return &EthosClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Score returns the Ethos score for address, or nil when Ethos has no profile
// for it.
func (c *EthosClient) Score(ctx context.Context, address string) (*float64, error) {
	url := fmt.Sprintf("%s/score/address:%s", c.baseURL, strings.ToLower(strings.TrimSpace(address)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ethos: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.clientID != "" {
		req.Header.Set("X-Ethos-Client", c.clientID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ethos: fetch score: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ethos: score request failed: status=%d", resp.StatusCode)
	}

	var decoded struct {
		Data struct {
			Score float64 `json:"score"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("ethos: decode score response: %w", err)
	}
	score := decoded.Data.Score
	return &score, nil
}

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultQuotientBaseURL is the production Quotient reputation API.
const DefaultQuotientBaseURL = "https://api.quotient.social"

// QuotientClient fetches quality scores keyed by Farcaster fid.
type QuotientClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewQuotientClient constructs a client with sane defaults.
func NewQuotientClient(baseURL, apiKey string) *QuotientClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultQuotientBaseURL
	}
	return &QuotientClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Mutual is one two-way Farcaster connection reported by Quotient, with the
// connection-strength score Quotient assigns to the pair.
type Mutual struct {
	FID           uint64
	Username      string
	CombinedScore float64
	Rank          *int64
}

// Mutuals returns fid's mutual connections, unordered. A fid with no
// connection graph yields (nil, nil).
func (c *QuotientClient) Mutuals(ctx context.Context, fid uint64) ([]Mutual, error) {
	body, err := json.Marshal(map[string]interface{}{
		"fid":        fid,
		"api_key":    c.apiKey,
		"categories": "mutuals",
	})
	if err != nil {
		return nil, fmt.Errorf("quotient: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/farcaster-connections", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("quotient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quotient: fetch mutuals: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quotient: mutuals request failed: status=%d", resp.StatusCode)
	}

	var decoded struct {
		Data []struct {
			FID           uint64  `json:"fid"`
			Username      string  `json:"username"`
			CombinedScore float64 `json:"combinedScore"`
			Rank          *int64  `json:"rank"`
		} `json:"data"`
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("quotient: decode mutuals response: %w", err)
	}
	mutuals := make([]Mutual, 0, len(decoded.Data))
	for _, item := range decoded.Data {
		mutuals = append(mutuals, Mutual{
			FID:           item.FID,
			Username:      item.Username,
			CombinedScore: item.CombinedScore,
			Rank:          item.Rank,
		})
	}
	return mutuals, nil
}

// Score returns the Quotient score for fid. A fid Quotient has not scored, or
// a scored fid with a null score, both yield (nil, nil).
func (c *QuotientClient) Score(ctx context.Context, fid uint64) (*float64, error) {
	body, err := json.Marshal(map[string]interface{}{
		"fids":    []uint64{fid},
		"api_key": c.apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("quotient: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/user-reputation", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("quotient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quotient: fetch score: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quotient: score request failed: status=%d", resp.StatusCode)
	}

	var decoded struct {
		Data []struct {
			FID           uint64   `json:"fid"`
			QuotientScore *float64 `json:"quotientScore"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("quotient: decode score response: %w", err)
	}
	if len(decoded.Data) == 0 {
		return nil, nil
	}
	return decoded.Data[0].QuotientScore, nil
}

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultNeynarBaseURL is the production Neynar Farcaster API.
const DefaultNeynarBaseURL = "https://api.neynar.com/v2/farcaster"

// FarcasterUser is the resolved platform identity for a wallet, including the
// Neynar-assigned user quality score when one exists.
type FarcasterUser struct {
	FID         uint64
	Username    string
	DisplayName string
	PfpURL      string
	Score       *float64
}

// Cast is a published Farcaster post, used as a share receipt.
type Cast struct {
	Hash      string
	AuthorFID uint64
	Text      string
}

// NeynarClient wraps the Neynar social-graph API.
type NeynarClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewNeynarClient constructs a client with sane defaults.
func NewNeynarClient(baseURL, apiKey string) *NeynarClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultNeynarBaseURL
	}
	return &NeynarClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// neynarUser mirrors the wire representation of a user object.
type neynarUser struct {
	FID          uint64   `json:"fid"`
	Username     string   `json:"username"`
	DisplayName  string   `json:"display_name"`
	PfpURL       string   `json:"pfp_url"`
	Score        *float64 `json:"score"`
	Experimental *struct {
		NeynarUserScore *float64 `json:"neynar_user_score"`
	} `json:"experimental"`
	ViewerContext *struct {
		Following bool `json:"following"`
	} `json:"viewer_context"`
}

func (u *neynarUser) toUser() *FarcasterUser {
	user := &FarcasterUser{
		FID:         u.FID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		PfpURL:      u.PfpURL,
		Score:       u.Score,
	}
	if user.Score == nil && u.Experimental != nil {
		user.Score = u.Experimental.NeynarUserScore
	}
	return user
}

func (c *NeynarClient) get(ctx context.Context, path string, query url.Values, out interface{}) (int, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("neynar: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("neynar: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return http.StatusNotFound, nil
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("neynar: %s failed: status=%d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("neynar: decode %s response: %w", path, err)
	}
	return resp.StatusCode, nil
}

// UserByAddress resolves the primary Farcaster account verified against a
// wallet address. Returns (nil, nil) when no account is linked.
func (c *NeynarClient) UserByAddress(ctx context.Context, address string) (*FarcasterUser, error) {
	normalized := strings.ToLower(strings.TrimSpace(address))
	query := url.Values{"addresses": {normalized}}

	// The bulk-by-address endpoint keys its response by the queried address.
	var decoded map[string][]neynarUser
	status, err := c.get(ctx, "/user/bulk-by-address", query, &decoded)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	users := decoded[normalized]
	if len(users) == 0 {
		return nil, nil
	}
	return users[0].toUser(), nil
}

// UserByFID resolves a Farcaster account directly by fid, used when the
// miniapp context already knows the caller's identity.
func (c *NeynarClient) UserByFID(ctx context.Context, fid uint64) (*FarcasterUser, error) {
	query := url.Values{"fids": {fmt.Sprintf("%d", fid)}}
	var decoded struct {
		Users []neynarUser `json:"users"`
	}
	status, err := c.get(ctx, "/user/bulk", query, &decoded)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || len(decoded.Users) == 0 {
		return nil, nil
	}
	return decoded.Users[0].toUser(), nil
}

// UsersByFIDs resolves current usernames for a batch of fids. An empty batch
// short-circuits without a request; fids unknown to the API are absent from
// the returned map.
func (c *NeynarClient) UsersByFIDs(ctx context.Context, fids []uint64) (map[uint64]string, error) {
	usernames := make(map[uint64]string, len(fids))
	if len(fids) == 0 {
		return usernames, nil
	}
	parts := make([]string, 0, len(fids))
	for _, fid := range fids {
		parts = append(parts, fmt.Sprintf("%d", fid))
	}
	query := url.Values{"fids": {strings.Join(parts, ",")}}
	var decoded struct {
		Users []neynarUser `json:"users"`
	}
	status, err := c.get(ctx, "/user/bulk", query, &decoded)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return usernames, nil
	}
	for _, user := range decoded.Users {
		if user.Username != "" {
			usernames[user.FID] = user.Username
		}
	}
	return usernames, nil
}

// IsFollowing reports whether viewerFID follows targetFID, confirmed by the
// API's viewer context. Returns (nil, nil) when the target is unknown.
func (c *NeynarClient) IsFollowing(ctx context.Context, viewerFID, targetFID uint64) (*bool, error) {
	query := url.Values{
		"fids":       {fmt.Sprintf("%d", targetFID)},
		"viewer_fid": {fmt.Sprintf("%d", viewerFID)},
	}
	var decoded struct {
		Users []neynarUser `json:"users"`
	}
	status, err := c.get(ctx, "/user/bulk", query, &decoded)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || len(decoded.Users) == 0 {
		return nil, nil
	}
	following := decoded.Users[0].ViewerContext != nil && decoded.Users[0].ViewerContext.Following
	return &following, nil
}

// CastByHash fetches a cast by hash. Returns (nil, nil) when the cast does not
// exist (or is not yet indexed).
func (c *NeynarClient) CastByHash(ctx context.Context, hash string) (*Cast, error) {
	query := url.Values{
		"identifier": {strings.TrimSpace(hash)},
		"type":       {"hash"},
	}
	var decoded struct {
		Cast *struct {
			Hash   string `json:"hash"`
			Text   string `json:"text"`
			Author struct {
				FID uint64 `json:"fid"`
			} `json:"author"`
		} `json:"cast"`
	}
	status, err := c.get(ctx, "/cast", query, &decoded)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || decoded.Cast == nil {
		return nil, nil
	}
	return &Cast{
		Hash:      decoded.Cast.Hash,
		AuthorFID: decoded.Cast.Author.FID,
		Text:      decoded.Cast.Text,
	}, nil
}

// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for live-stream lookups and login validation, using an app access token.
package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/oauth2"

	"github.com/mcint/nullbot/streams"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix"

// maxBatch is the Helix limit on repeated login parameters per request.
const maxBatch = 100

// HelixClient provides the Helix calls the stream monitor and !watch need.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	BaseURL        string // defaults to DefaultBaseURL
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return DefaultBaseURL
}

// Stream is one entry of GET /helix/streams.
type Stream struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserLogin string    `json:"user_login"`
	UserName  string    `json:"user_name"`
	GameName  string    `json:"game_name"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"started_at"`
}

// User is one entry of GET /helix/users.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// GetStreams returns the live streams among logins, issuing one request per
// hundred logins. Offline logins are absent from the result.
func (hc *HelixClient) GetStreams(ctx context.Context, logins []string) ([]Stream, error) {
	var out []Stream
	for _, chunk := range chunks(logins, maxBatch) {
		q := url.Values{}
		for _, l := range chunk {
			q.Add("user_login", l)
		}
		q.Set("first", fmt.Sprintf("%d", maxBatch))
		var body struct {
			Data []Stream `json:"data"`
		}
		if err := hc.get(ctx, "get streams", "/streams", q, &body); err != nil {
			return nil, err
		}
		out = append(out, body.Data...)
	}
	return out, nil
}

// GetUsers resolves logins to users. Unknown logins are absent from the result.
func (hc *HelixClient) GetUsers(ctx context.Context, logins []string) ([]User, error) {
	var out []User
	for _, chunk := range chunks(logins, maxBatch) {
		q := url.Values{}
		for _, l := range chunk {
			q.Add("login", l)
		}
		var body struct {
			Data []User `json:"data"`
		}
		if err := hc.get(ctx, "get users", "/users", q, &body); err != nil {
			return nil, err
		}
		out = append(out, body.Data...)
	}
	return out, nil
}

// get performs one authenticated Helix GET and decodes the JSON body into out.
// Failures come back as *streams.ProviderError: network errors are transient,
// any non-2xx status or undecodable body is permanent.
func (hc *HelixClient) get(ctx context.Context, op, path string, q url.Values, out any) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return streams.Permanent(op+": app token", re.Response.StatusCode, err)
		}
		return streams.Transient(op+": app token", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+path, nil)
	if err != nil {
		return streams.Permanent(op, 0, err)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return streams.Transient(op, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized {
			hc.AppTokenSource.Invalidate()
		}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return streams.Permanent(op, resp.StatusCode, fmt.Errorf("helix %s: %s", resp.Status, string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return streams.Permanent(op, resp.StatusCode, fmt.Errorf("decode helix response: %w", err))
	}
	return nil
}

func chunks(items []string, size int) [][]string {
	var out [][]string
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

package twitchapi

import (
	"context"
	"regexp"
	"strings"

	"github.com/mcint/nullbot/streams"
)

// Platform is the watch-list partition and metric label for Twitch.
const Platform = "twitch"

// loginPattern matches names Helix accepts as a login; anything else would fail
// the whole batch with a 400.
var loginPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{1,25}$`)

// Provider adapts a HelixClient to streams.Provider and streams.Validator.
type Provider struct {
	Client *HelixClient
}

// NewProvider builds a Provider with an app token source for the given credentials.
func NewProvider(clientID, clientSecret string) *Provider {
	return &Provider{Client: &HelixClient{
		AppTokenSource: &TokenSource{ClientID: clientID, ClientSecret: clientSecret},
		ClientID:       clientID,
	}}
}

func (p *Provider) Platform() string { return Platform }

// LiveStreams reports which logins are live.
func (p *Provider) LiveStreams(ctx context.Context, names []string) ([]streams.Snapshot, error) {
	ss, err := p.Client.GetStreams(ctx, validLogins(names))
	if err != nil {
		return nil, err
	}
	out := make([]streams.Snapshot, 0, len(ss))
	for _, s := range ss {
		if s.Type != "" && s.Type != "live" {
			continue
		}
		login := strings.ToLower(s.UserLogin)
		out = append(out, streams.Snapshot{
			Name:        login,
			DisplayName: s.UserName,
			Title:       s.Title,
			StartedAt:   s.StartedAt,
			URL:         StreamURL(login),
		})
	}
	return out, nil
}

// Validate returns the lowercased logins Twitch knows about.
func (p *Provider) Validate(ctx context.Context, names []string) ([]string, error) {
	logins := validLogins(names)
	if len(logins) == 0 {
		return nil, nil
	}
	users, err := p.Client.GetUsers(ctx, logins)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, strings.ToLower(u.Login))
	}
	return out, nil
}

// StreamURL is the canonical watch URL for a login.
func StreamURL(login string) string {
	return "https://twitch.tv/" + login
}

func validLogins(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if loginPattern.MatchString(n) {
			out = append(out, strings.ToLower(n))
		}
	}
	return out
}

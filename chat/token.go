package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

// Credentials identify the chat bot.
type Credentials struct {
	Username     string
	OAuthToken   string // static "oauth:..." token
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// IRCToken returns the password for the IRC connection. A configured refresh
// token is exchanged for a fresh access token; otherwise the static token is used.
func IRCToken(ctx context.Context, c Credentials, endpoint *oauth2.Endpoint) (string, error) {
	if c.RefreshToken != "" && c.ClientID != "" && c.ClientSecret != "" {
		ep := twitch.Endpoint
		if endpoint != nil {
			ep = *endpoint
		}
		oc := &oauth2.Config{ClientID: c.ClientID, ClientSecret: c.ClientSecret, Endpoint: ep}
		tok, err := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: c.RefreshToken}).Token()
		if err != nil {
			return "", fmt.Errorf("refresh twitch bot token: %w", err)
		}
		return "oauth:" + tok.AccessToken, nil
	}
	if c.OAuthToken == "" {
		return "", errors.New("missing twitch bot token: set TWITCH_OAUTH_TOKEN or TWITCH_REFRESH_TOKEN")
	}
	if !strings.HasPrefix(c.OAuthToken, "oauth:") {
		return "oauth:" + c.OAuthToken, nil
	}
	return c.OAuthToken, nil
}

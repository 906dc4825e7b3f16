package provider

import (
	"context"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/kairo/pkg/models"
	"golang.org/x/oauth2"
)

// SlackScopes are the bot scopes requested during install.
var SlackScopes = []string{
	"app_mentions:read",
	"channels:history",
	"channels:read",
	"chat:write",
	"groups:history",
	"groups:read",
	"im:history",
	"im:read",
	"im:write",
	"reactions:read",
	"reactions:write",
	"users:read",
	"files:read",
}

// Extra keys set on a Slack TokenSet.
const (
	SlackExtraTeamID    = "team_id"
	SlackExtraTeamName  = "team_name"
	SlackExtraBotUserID = "bot_user_id"
	SlackExtraAppID     = "app_id"
)

// SlackBroker installs the Slack app with OAuth v2. Bot tokens do not expire.
type SlackBroker struct {
	oauth  *oauth2.Config
	client *http.Client
}

// NewSlackBroker creates a SlackBroker.
func NewSlackBroker(clientID, clientSecret, authURL, tokenURL, redirectURL string, client *http.Client) *SlackBroker {
	return &SlackBroker{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: client,
	}
}

func (b *SlackBroker) Type() models.ProviderType { return models.ProviderSlack }

// AuthorizationURL passes scopes comma separated, which is what Slack expects.
func (b *SlackBroker) AuthorizationURL(state string) string {
	return b.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("scope", strings.Join(SlackScopes, ",")))
}

// Exchange trades a code for a bot token. Slack answers 200 with ok=false on
// failure; x/oauth2 reports the "error" field as a RetrieveError.
func (b *SlackBroker) Exchange(ctx context.Context, code string) (*TokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.client)
	tok, err := b.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, classifyOAuthError("slack exchange", err)
	}

	ts := tokenSetFromOAuth2(tok, "bot_user_id", "app_id")
	if team, ok := tok.Extra("team").(map[string]any); ok {
		if id, ok := team["id"].(string); ok {
			ts.Extra[SlackExtraTeamID] = id
		}
		if name, ok := team["name"].(string); ok {
			ts.Extra[SlackExtraTeamName] = name
		}
	}
	return ts, nil
}

var _ Broker = (*SlackBroker)(nil)

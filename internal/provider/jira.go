package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kiranshivaraju/kairo/pkg/models"
	"golang.org/x/oauth2"
)

// JiraScopes are requested for Atlassian 3LO. offline_access yields a refresh token.
var JiraScopes = []string{"read:jira-work", "write:jira-work", "read:jira-user", "offline_access"}

// JiraSite is an Atlassian cloud site the token can reach.
type JiraSite struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

// JiraProject is a project visible on a Jira site.
type JiraProject struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// JiraBroker runs the Atlassian OAuth 2.0 (3LO) flow and reads site data with the
// resulting token. Access tokens expire and are refreshed with the refresh token.
type JiraBroker struct {
	oauth  *oauth2.Config
	apiURL string
	client *http.Client
}

// NewJiraBroker creates a JiraBroker. apiURL is the api.atlassian.com base.
func NewJiraBroker(clientID, clientSecret, authURL, tokenURL, apiURL, redirectURL string, client *http.Client) *JiraBroker {
	return &JiraBroker{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       JiraScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiURL: strings.TrimRight(apiURL, "/"),
		client: client,
	}
}

func (b *JiraBroker) Type() models.ProviderType { return models.ProviderJira }

func (b *JiraBroker) AuthorizationURL(state string) string {
	return b.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("audience", "api.atlassian.com"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

func (b *JiraBroker) Exchange(ctx context.Context, code string) (*TokenSet, error) {
	tok, err := b.oauth.Exchange(b.withClient(ctx), code)
	if err != nil {
		return nil, classifyOAuthError("jira exchange", err)
	}
	return tokenSetFromOAuth2(tok), nil
}

// Refresh trades a refresh token for a new access token. Atlassian rotates refresh
// tokens; when none comes back the old one stays valid and is returned.
func (b *JiraBroker) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	src := b.oauth.TokenSource(b.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyOAuthError("jira refresh", err)
	}
	return tokenSetFromOAuth2(tok), nil
}

// AccessibleResources lists the cloud sites the access token was granted for.
func (b *JiraBroker) AccessibleResources(ctx context.Context, accessToken string) ([]JiraSite, error) {
	var sites []JiraSite
	if err := b.getJSON(ctx, accessToken, b.apiURL+"/oauth/token/accessible-resources", &sites); err != nil {
		return nil, fmt.Errorf("accessible resources: %w", err)
	}
	return sites, nil
}

// ListProjects returns up to 100 projects on the given cloud site.
func (b *JiraBroker) ListProjects(ctx context.Context, accessToken, cloudID string) ([]JiraProject, error) {
	u := fmt.Sprintf("%s/ex/jira/%s/rest/api/3/project/search?maxResults=100", b.apiURL, url.PathEscape(cloudID))

	var page struct {
		Values []JiraProject `json:"values"`
	}
	if err := b.getJSON(ctx, accessToken, u, &page); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	if page.Values == nil {
		return []JiraProject{}, nil
	}
	return page.Values, nil
}

func (b *JiraBroker) getJSON(ctx context.Context, accessToken, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: status %d", ErrUpstreamAuth, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}

func (b *JiraBroker) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, b.client)
}

var (
	_ Broker    = (*JiraBroker)(nil)
	_ Refresher = (*JiraBroker)(nil)
)

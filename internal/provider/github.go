package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/kairo/pkg/models"
	"golang.org/x/oauth2"
)

// GitHubScopes are requested for the OAuth app.
var GitHubScopes = []string{"repo", "read:user"}

// GitHubRepo is a repository the token can see.
type GitHubRepo struct {
	FullName    string `json:"full_name"`
	Name        string `json:"name"`
	Owner       string `json:"owner"`
	Private     bool   `json:"private"`
	Description string `json:"description,omitempty"`
}

// GitHubBroker runs the GitHub OAuth app flow. GitHub OAuth tokens do not expire.
type GitHubBroker struct {
	oauth  *oauth2.Config
	apiURL string
	client *http.Client
}

// NewGitHubBroker creates a GitHubBroker. apiURL is the REST API base.
func NewGitHubBroker(clientID, clientSecret, authURL, tokenURL, apiURL, redirectURL string, client *http.Client) *GitHubBroker {
	return &GitHubBroker{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       GitHubScopes,
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

func (b *GitHubBroker) Type() models.ProviderType { return models.ProviderGitHub }

func (b *GitHubBroker) AuthorizationURL(state string) string {
	return b.oauth.AuthCodeURL(state)
}

// Exchange trades a code for an access token. GitHub reports a bad code as a 200
// carrying error and error_description, which x/oauth2 surfaces as a RetrieveError.
func (b *GitHubBroker) Exchange(ctx context.Context, code string) (*TokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.client)
	tok, err := b.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, classifyOAuthError("github exchange", err)
	}
	return tokenSetFromOAuth2(tok), nil
}

// ListRepos returns up to 100 repositories, most recently updated first.
func (b *GitHubBroker) ListRepos(ctx context.Context, accessToken string) ([]GitHubRepo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.apiURL+"/user/repos?per_page=100&sort=updated&type=all", nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	setGitHubHeaders(req, accessToken)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: list repos: status %d", ErrUpstreamAuth, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: list repos: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var raw []struct {
		FullName    string  `json:"full_name"`
		Name        string  `json:"name"`
		Private     bool    `json:"private"`
		Description *string `json:"description"`
		Owner       struct {
			Login string `json:"login"`
		} `json:"owner"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decoding repos: %v", ErrUpstreamUnavailable, err)
	}

	repos := make([]GitHubRepo, 0, len(raw))
	for _, r := range raw {
		repo := GitHubRepo{FullName: r.FullName, Name: r.Name, Owner: r.Owner.Login, Private: r.Private}
		if r.Description != nil {
			repo.Description = *r.Description
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

func setGitHubHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
}

var _ Broker = (*GitHubBroker)(nil)

package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// JiraBasic checks a Jira site URL, email and API token pair before it is stored.
type JiraBasic struct {
	client *http.Client
}

func NewJiraBasic(client *http.Client) *JiraBasic {
	return &JiraBasic{client: client}
}

// NormalizeSiteURL trims trailing slashes from a Jira site URL.
func NormalizeSiteURL(siteURL string) string {
	return strings.TrimRight(strings.TrimSpace(siteURL), "/")
}

// Validate confirms the credentials authenticate and the project exists. Every
// failure is a *ValidationError whose message can be shown to the tenant.
func (v *JiraBasic) Validate(ctx context.Context, siteURL, email, apiToken, projectKey string) error {
	base := NormalizeSiteURL(siteURL)
	if !strings.HasPrefix(base, "https://") && !strings.HasPrefix(base, "http://") {
		return validationErr(ErrInvalidCredential, "Site URL must start with https://")
	}

	status, err := v.get(ctx, base+"/rest/api/3/myself", email, apiToken)
	if err != nil {
		return validationErr(ErrUpstreamUnavailable, "Could not connect to Jira. Check the site URL.")
	}
	switch {
	case status == http.StatusUnauthorized:
		return validationErr(ErrInvalidCredential, "Invalid email or API token")
	case status < 200 || status > 299:
		return validationErr(ErrUpstreamUnavailable, "Jira returned status %d", status)
	}

	status, err = v.get(ctx, base+"/rest/api/3/project/"+url.PathEscape(projectKey), email, apiToken)
	if err != nil {
		return validationErr(ErrUpstreamUnavailable, "Could not connect to Jira. Check the site URL.")
	}
	if status >= 500 {
		return validationErr(ErrUpstreamUnavailable, "Jira returned status %d", status)
	}
	if status < 200 || status > 299 {
		return validationErr(ErrResourceNotFound,
			"Project %q not found. Check the project key and try again.", projectKey)
	}
	return nil
}

func (v *JiraBasic) get(ctx context.Context, u, email, apiToken string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	req.SetBasicAuth(email, apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// GitHubPAT checks a personal access token and its access to one repository.
type GitHubPAT struct {
	apiURL string
	client *http.Client
}

func NewGitHubPAT(apiURL string, client *http.Client) *GitHubPAT {
	return &GitHubPAT{apiURL: strings.TrimRight(apiURL, "/"), client: client}
}

// Validate confirms the token authenticates and can see owner/repo.
func (v *GitHubPAT) Validate(ctx context.Context, token, owner, repo string) error {
	status, err := v.get(ctx, v.apiURL+"/user", token)
	if err != nil {
		return validationErr(ErrUpstreamUnavailable, "Could not connect to GitHub. Check your network connection.")
	}
	switch {
	case status == http.StatusUnauthorized:
		return validationErr(ErrInvalidCredential, "Invalid personal access token")
	case status < 200 || status > 299:
		return validationErr(ErrUpstreamUnavailable, "GitHub returned status %d", status)
	}

	status, err = v.get(ctx, fmt.Sprintf("%s/repos/%s/%s", v.apiURL, url.PathEscape(owner), url.PathEscape(repo)), token)
	if err != nil {
		return validationErr(ErrUpstreamUnavailable, "Could not connect to GitHub. Check your network connection.")
	}
	if status >= 500 {
		return validationErr(ErrUpstreamUnavailable, "GitHub returned status %d", status)
	}
	if status < 200 || status > 299 {
		return validationErr(ErrResourceNotFound,
			"Repository %q not found or not accessible with this token.", owner+"/"+repo)
	}
	return nil
}

func (v *GitHubPAT) get(ctx context.Context, u, token string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	setGitHubHeaders(req, token)

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

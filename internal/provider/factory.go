package provider

import (
	"net/http"

	"github.com/kiranshivaraju/kairo/internal/config"
	"github.com/kiranshivaraju/kairo/pkg/models"
)

// Set is every provider client the control plane uses. OAuth brokers are nil
// when their client ID is not configured.
type Set struct {
	Slack  *SlackBroker
	Jira   *JiraBroker
	GitHub *GitHubBroker

	JiraBasic *JiraBasic
	GitHubPAT *GitHubPAT
}

// NewBrokers constructs the provider clients from config.
// Called once at server startup.
func NewBrokers(cfg *config.Config, client *http.Client) *Set {
	s := &Set{
		JiraBasic: NewJiraBasic(client),
		GitHubPAT: NewGitHubPAT(cfg.GitHub.APIURL, client),
	}
	if cfg.Slack.ClientID != "" {
		s.Slack = NewSlackBroker(cfg.Slack.ClientID, cfg.Slack.ClientSecret,
			cfg.Slack.AuthURL, cfg.Slack.TokenURL, cfg.RedirectURL(string(models.ProviderSlack)), client)
	}
	if cfg.Jira.ClientID != "" {
		s.Jira = NewJiraBroker(cfg.Jira.ClientID, cfg.Jira.ClientSecret,
			cfg.Jira.AuthURL, cfg.Jira.TokenURL, cfg.Jira.APIURL, cfg.RedirectURL(string(models.ProviderJira)), client)
	}
	if cfg.GitHub.ClientID != "" {
		s.GitHub = NewGitHubBroker(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret,
			cfg.GitHub.AuthURL, cfg.GitHub.TokenURL, cfg.GitHub.APIURL, cfg.RedirectURL(string(models.ProviderGitHub)), client)
	}
	return s
}

// Brokers returns the configured OAuth brokers keyed by provider.
func (s *Set) Brokers() map[models.ProviderType]Broker {
	out := make(map[models.ProviderType]Broker, 3)
	if s.Slack != nil {
		out[models.ProviderSlack] = s.Slack
	}
	if s.Jira != nil {
		out[models.ProviderJira] = s.Jira
	}
	if s.GitHub != nil {
		out[models.ProviderGitHub] = s.GitHub
	}
	return out
}

// Refreshers returns the configured brokers that can refresh tokens.
func (s *Set) Refreshers() map[models.ProviderType]Refresher {
	out := make(map[models.ProviderType]Refresher, 1)
	if s.Jira != nil {
		out[models.ProviderJira] = s.Jira
	}
	return out
}

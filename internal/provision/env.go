package provision

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/kairo/internal/config"
	"github.com/kiranshivaraju/kairo/internal/integration"
	"github.com/kiranshivaraju/kairo/pkg/models"
)

// Environment variable names injected into every instance.
const (
	EnvSlackBotToken        = "SLACK_BOT_TOKEN"
	EnvSlackAppToken        = "SLACK_APP_TOKEN"
	EnvJiraAuthMode         = "JIRA_AUTH_MODE"
	EnvJiraBaseURL          = "JIRA_BASE_URL"
	EnvJiraEmail            = "JIRA_EMAIL"
	EnvJiraAPIToken         = "JIRA_API_TOKEN"
	EnvJiraAccessToken      = "JIRA_ACCESS_TOKEN"
	EnvJiraCloudID          = "JIRA_CLOUD_ID"
	EnvJiraProjectKey       = "JIRA_PROJECT_KEY"
	EnvJiraDefaultIssueType = "JIRA_DEFAULT_ISSUE_TYPE"
	EnvGitHubToken          = "GITHUB_TOKEN"
	EnvGitHubOwner          = "GITHUB_OWNER"
	EnvGitHubRepo           = "GITHUB_REPO"
	EnvGatewayToken         = "KAIRO_GATEWAY_TOKEN"
	EnvGatewayPort          = "KAIRO_GATEWAY_PORT"
	EnvStateDir             = "KAIRO_STATE_DIR"
	EnvControlURL           = "KAIRO_CONTROL_URL"
	EnvModelAPIKey          = "ANTHROPIC_API_KEY"
	EnvRuntimeMode          = "NODE_ENV"
)

// FallbackIssueType is used when neither the Jira metadata nor Settings name one.
const FallbackIssueType = "Bug"

// Settings are the fixed operational values every instance receives.
type Settings struct {
	SlackAppToken    string
	ModelAPIKey      string
	Port             int
	StateDir         string
	RuntimeMode      string
	DefaultIssueType string
	ControlURL       string
}

// SettingsFromConfig builds Settings from the loaded config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		SlackAppToken:    cfg.Slack.AppToken,
		ModelAPIKey:      cfg.Instance.ModelAPIKey,
		Port:             cfg.Instance.Port,
		StateDir:         cfg.Instance.StateDir,
		RuntimeMode:      cfg.Instance.RuntimeMode,
		DefaultIssueType: cfg.Instance.DefaultIssueType,
		ControlURL:       cfg.Server.AppURL,
	}
}

// EnvInput is everything AssembleEnv reads.
type EnvInput struct {
	Slack        *integration.Entry
	Jira         *integration.Entry
	GitHub       *integration.Entry
	GatewayToken string
	Settings     Settings
}

// AssembleEnv builds the complete variable set for an instance. It either returns
// a map with every key set to a non-empty value or an error naming what is missing.
func AssembleEnv(in EnvInput) (map[string]string, error) {
	if in.Slack == nil || in.Jira == nil || in.GitHub == nil {
		return nil, fmt.Errorf("assemble env: all three integrations are required")
	}

	jiraMeta := in.Jira.Integration.Metadata
	ghMeta := in.GitHub.Integration.Metadata
	jiraCreds := in.Jira.Credentials

	issueType := jiraMeta[models.MetaDefaultIssueType]
	if issueType == "" {
		issueType = in.Settings.DefaultIssueType
	}
	if issueType == "" {
		issueType = FallbackIssueType
	}

	env := map[string]string{
		EnvSlackBotToken:        in.Slack.Credentials.BotToken,
		EnvSlackAppToken:        in.Settings.SlackAppToken,
		EnvJiraBaseURL:          jiraMeta[models.MetaSiteURL],
		EnvJiraProjectKey:       jiraMeta[models.MetaProjectKey],
		EnvJiraDefaultIssueType: issueType,
		EnvGitHubToken:          in.GitHub.Credentials.Token,
		EnvGitHubOwner:          ghMeta[models.MetaOwner],
		EnvGitHubRepo:           ghMeta[models.MetaRepo],
		EnvGatewayToken:         in.GatewayToken,
		EnvGatewayPort:          strconv.Itoa(in.Settings.Port),
		EnvStateDir:             in.Settings.StateDir,
		EnvControlURL:           in.Settings.ControlURL,
		EnvModelAPIKey:          in.Settings.ModelAPIKey,
		EnvRuntimeMode:          in.Settings.RuntimeMode,
	}

	if jiraMeta[models.MetaAuthMode] == models.AuthModeOAuth {
		env[EnvJiraAuthMode] = models.AuthModeOAuth
		env[EnvJiraAccessToken] = jiraCreds.AccessToken
		env[EnvJiraCloudID] = jiraMeta[models.MetaCloudID]
	} else {
		env[EnvJiraAuthMode] = models.AuthModeBasic
		env[EnvJiraEmail] = jiraCreds.Email
		env[EnvJiraAPIToken] = jiraCreds.APIToken
	}

	var missing []string
	for k, v := range env {
		if v == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("assemble env: no value for %s", strings.Join(missing, ", "))
	}
	return env, nil
}

// ResourceName derives the backend resource name from the tenant id:
// "kairo-" followed by at most 12 lower-cased characters, anything outside
// [a-z0-9-] replaced with '-'.
func ResourceName(tenantID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(tenantID) {
		if b.Len() == 12 {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return "kairo-" + b.String()
}

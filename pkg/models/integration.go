package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProviderType identifies an external SaaS account a tenant can link.
type ProviderType string

const (
	// ProviderSlack is the chat platform.
	ProviderSlack ProviderType = "slack"
	// ProviderJira is the issue tracker.
	ProviderJira ProviderType = "jira"
	// ProviderGitHub is the source-control host.
	ProviderGitHub ProviderType = "github"
)

// RequiredProviders lists the integrations an instance cannot be provisioned without,
// in the order they are checked.
var RequiredProviders = []ProviderType{ProviderSlack, ProviderJira, ProviderGitHub}

// ParseProviderType validates a raw provider name from a URL or request body.
func ParseProviderType(s string) (ProviderType, error) {
	switch p := ProviderType(s); p {
	case ProviderSlack, ProviderJira, ProviderGitHub:
		return p, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

// Integration links one tenant to one provider. At most one exists per (TenantID, Type).
// CredentialsEncrypted is opaque outside the integration registry.
type Integration struct {
	ID                   uuid.UUID         `db:"id"                    json:"id"`
	TenantID             string            `db:"tenant_id"             json:"tenant_id"`
	Type                 ProviderType      `db:"type"                  json:"type"`
	CredentialsEncrypted string            `db:"credentials_encrypted" json:"-"`
	Metadata             map[string]string `db:"metadata"              json:"metadata"`
	CreatedAt            time.Time         `db:"created_at"            json:"created_at"`
	UpdatedAt            time.Time         `db:"updated_at"            json:"updated_at"`
}

// Credentials is the plaintext credential blob. Which fields are set depends on the
// provider and connect mode:
//
//	slack:        BotToken
//	jira basic:   Email, APIToken
//	jira oauth:   AccessToken, RefreshToken, ExpiresAt
//	github:       Token
type Credentials struct {
	BotToken     string     `json:"botToken,omitempty"`
	Email        string     `json:"email,omitempty"`
	APIToken     string     `json:"apiToken,omitempty"`
	AccessToken  string     `json:"accessToken,omitempty"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Token        string     `json:"token,omitempty"`
}

// Metadata keys shared between the connect flows and environment assembly.
const (
	MetaAuthMode         = "authMode"
	MetaScopes           = "scopes"
	MetaTeamID           = "teamId"
	MetaTeamName         = "teamName"
	MetaBotUserID        = "botUserId"
	MetaAppID            = "appId"
	MetaCloudID          = "cloudId"
	MetaSiteURL          = "siteUrl"
	MetaSiteName         = "siteName"
	MetaProjectKey       = "projectKey"
	MetaDefaultIssueType = "defaultIssueType"
	MetaOwner            = "owner"
	MetaRepo             = "repo"
)

const (
	AuthModeOAuth = "oauth"
	AuthModeBasic = "basic"
	AuthModePAT   = "pat"
)

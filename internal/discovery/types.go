package discovery

import (
	"fmt"
	"time"
)

const (
	PlatformChatOps        = "chatops"
	PlatformDirectoryGraph = "directorygraph"
	PlatformWorkspaceAdmin = "workspaceadmin"
)

const (
	AutomationTypeBot            = "bot"
	AutomationTypeIntegration    = "integration"
	AutomationTypeWorkflow       = "workflow"
	AutomationTypeApp            = "app"
	AutomationTypeServiceAccount = "service_account"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusError    = "error"
)

const (
	TriggerMessage    = "message"
	TriggerAPICall    = "api_call"
	TriggerItemChange = "item_change"
)

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
	ActorTypeApp    = "app"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

const (
	RiskLevelLow      = "low"
	RiskLevelMedium   = "medium"
	RiskLevelHigh     = "high"
	RiskLevelCritical = "critical"
)

// Metadata keys shared between connector normalization and risk scoring.
const (
	MetadataKeyIsAIPlatform = "isAIPlatform"
	MetadataKeyRiskFactors  = "riskFactors"
	MetadataKeyRiskScore    = "riskScore"
	MetadataKeyScopes       = "scopes"
)

// OAuthCredentials is the decrypted credential material for one platform
// connection. Mutated only by token refresh; never persisted in plaintext.
type OAuthCredentials struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	TokenType    string     `json:"tokenType,omitempty"`
	Scope        string     `json:"scope,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// AutomationEvent is the canonical record of one discovered automation.
// Connectors create it during discovery; risk scoring annotates RiskLevel
// and metadata in place; it is immutable once returned to the caller.
type AutomationEvent struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	Platform      string         `json:"platform"`
	Status        string         `json:"status"`
	Trigger       string         `json:"trigger"`
	Actions       []string       `json:"actions"`
	CreatedAt     time.Time      `json:"createdAt"`
	LastTriggered *time.Time     `json:"lastTriggered"`
	Description   string         `json:"description,omitempty"`
	RiskLevel     string         `json:"riskLevel,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// AuditLogEntry is one normalized platform audit/activity record.
type AuditLogEntry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	ActorID      string         `json:"actorId"`
	ActorType    string         `json:"actorType"`
	ActionType   string         `json:"actionType"`
	ResourceType string         `json:"resourceType,omitempty"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Result       string         `json:"result"`
	IPAddress    string         `json:"ipAddress,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// PermissionCheck is the result of probing a connector's capability list.
// Permissions, MissingPermissions, and the capabilities named in Errors
// partition the probed list with no overlap.
type PermissionCheck struct {
	IsValid            bool           `json:"isValid"`
	Permissions        []string       `json:"permissions"`
	MissingPermissions []string       `json:"missingPermissions"`
	Errors             []string       `json:"errors"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// AuthResult reports the outcome of authenticating against a platform.
// Expected auth failures and transport failures both fold into
// Success=false with Error populated; authenticate never fails hard.
type AuthResult struct {
	Success             bool           `json:"success"`
	PlatformUserID      string         `json:"platformUserId,omitempty"`
	PlatformWorkspaceID string         `json:"platformWorkspaceId,omitempty"`
	DisplayName         string         `json:"displayName,omitempty"`
	Permissions         []string       `json:"permissions,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	Error               string         `json:"error,omitempty"`
	ErrorCode           string         `json:"errorCode,omitempty"`
}

// RiskAssessment is the output of the risk scoring engine.
type RiskAssessment struct {
	Level           string   `json:"level"`
	Score           int      `json:"score"`
	Factors         []string `json:"factors"`
	Recommendations []string `json:"recommendations"`
}

// EventID builds the platform-prefixed automation identifier
// "<platform>-<subtype>-<externalId>".
func EventID(platform, subtype, externalID string) string {
	return fmt.Sprintf("%s-%s-%s", platform, subtype, externalID)
}

// StringsFromMetadata reads a []string metadata value, tolerating the
// []any shape produced by JSON decoding.
func StringsFromMetadata(metadata map[string]any, key string) []string {
	if len(metadata) == 0 {
		return nil
	}
	switch v := metadata[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// BoolFromMetadata reads a bool metadata value.
func BoolFromMetadata(metadata map[string]any, key string) bool {
	if len(metadata) == 0 {
		return false
	}
	v, ok := metadata[key].(bool)
	return ok && v
}

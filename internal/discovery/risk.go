package discovery

import (
	"slices"
	"time"
)

const staleActivityWindow = 330 * 24 * time.Hour

const aiPlatformScore = 85

// Score derives a risk assessment from a normalized automation's metadata.
// It is deterministic and side-effect free: identical input always yields
// identical output. An AI-platform automation scores 85/high regardless of
// factor count; otherwise the numeric score depends only on the number of
// reported risk factors, and scope or staleness findings extend the factor
// and recommendation lists without moving the score.
func Score(input RiskInput) RiskAssessment {
	now := input.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	qualFactors, qualRecommendations := qualitativeFindings(input, now)

	if input.IsAIPlatform {
		factors := make([]string, 0, 1+len(input.RiskFactors)+len(qualFactors))
		factors = append(factors, "AI platform integration detected")
		factors = append(factors, input.RiskFactors...)
		factors = append(factors, qualFactors...)
		recommendations := make([]string, 0, 1+len(qualRecommendations))
		recommendations = append(recommendations, "Review AI platform access and data exposure")
		recommendations = append(recommendations, qualRecommendations...)
		return RiskAssessment{
			Level:           RiskLevelHigh,
			Score:           aiPlatformScore,
			Factors:         factors,
			Recommendations: recommendations,
		}
	}

	n := len(input.RiskFactors)
	score := 30 + 15*n
	if score > 100 {
		score = 100
	}

	factors := slices.Clone(input.RiskFactors)
	factors = append(factors, qualFactors...)

	return RiskAssessment{
		Level:           riskLevelForFactorCount(n),
		Score:           score,
		Factors:         factors,
		Recommendations: qualRecommendations,
	}
}

type RiskInput struct {
	IsAIPlatform bool
	RiskFactors  []string
	Scopes       []string
	LastActivity *time.Time
	Now          time.Time
}

// RiskInputFromEvent extracts scoring signals from a connector-normalized event.
func RiskInputFromEvent(ev AutomationEvent, now time.Time) RiskInput {
	return RiskInput{
		IsAIPlatform: BoolFromMetadata(ev.Metadata, MetadataKeyIsAIPlatform),
		RiskFactors:  StringsFromMetadata(ev.Metadata, MetadataKeyRiskFactors),
		Scopes:       StringsFromMetadata(ev.Metadata, MetadataKeyScopes),
		LastActivity: ev.LastTriggered,
		Now:          now,
	}
}

// AnnotateRisk scores the event in place, setting riskLevel and
// metadata.riskScore, and returns the full assessment.
func AnnotateRisk(ev *AutomationEvent, now time.Time) RiskAssessment {
	assessment := Score(RiskInputFromEvent(*ev, now))
	ev.RiskLevel = assessment.Level
	if ev.Metadata == nil {
		ev.Metadata = make(map[string]any, 1)
	}
	ev.Metadata[MetadataKeyRiskScore] = assessment.Score
	return assessment
}

func riskLevelForFactorCount(n int) string {
	switch {
	case n >= 5:
		return RiskLevelCritical
	case n >= 3:
		return RiskLevelHigh
	case n >= 1:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

func qualitativeFindings(input RiskInput, now time.Time) ([]string, []string) {
	var factors []string
	var recommendations []string

	scopes := NormalizeScopes(input.Scopes)
	if HasPrivilegedScopes(scopes) {
		factors = append(factors, "High-privilege permissions detected")
		recommendations = append(recommendations, "Review elevated permissions and apply least privilege")
	}
	if HasUserWriteScopes(scopes) {
		factors = append(factors, "Write access to user data")
	}
	if HasDirectoryWriteScopes(scopes) {
		factors = append(factors, "Directory modification capabilities")
	}
	if HasFileAccessScopes(scopes) {
		factors = append(factors, "File system access")
	}
	if HasMailSendScopes(scopes) {
		factors = append(factors, "Email sending capabilities")
		recommendations = append(recommendations, "Verify email sending is an intended capability")
	}

	if input.LastActivity != nil && !input.LastActivity.IsZero() && now.Sub(input.LastActivity.UTC()) > staleActivityWindow {
		factors = append(factors, "Stale automation (no recent activity)")
		recommendations = append(recommendations, "Consider deactivating unused automation")
	}

	return factors, recommendations
}

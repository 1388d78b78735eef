package discovery

import (
	"slices"
	"strings"
)

// NormalizeScopes lowercases, trims, and dedupes scope names while
// preserving first-seen order.
func NormalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return nil
	}
	out := make([]string, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		normalized := strings.ToLower(strings.TrimSpace(scope))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

// SplitScopeString splits a space- or comma-delimited OAuth scope string.
func SplitScopeString(scope string) []string {
	fields := strings.FieldsFunc(scope, func(r rune) bool {
		return r == ' ' || r == ','
	})
	return NormalizeScopes(fields)
}

func HasPrivilegedScopes(scopes []string) bool {
	return slices.ContainsFunc(NormalizeScopes(scopes), isPrivilegedScope)
}

func HasUserWriteScopes(scopes []string) bool {
	return slices.ContainsFunc(NormalizeScopes(scopes), isUserWriteScope)
}

func HasDirectoryWriteScopes(scopes []string) bool {
	return slices.ContainsFunc(NormalizeScopes(scopes), isDirectoryWriteScope)
}

func HasFileAccessScopes(scopes []string) bool {
	return slices.ContainsFunc(NormalizeScopes(scopes), isFileAccessScope)
}

func HasMailSendScopes(scopes []string) bool {
	return slices.ContainsFunc(NormalizeScopes(scopes), isMailSendScope)
}

func isPrivilegedScope(scope string) bool {
	privilegedNeedles := []string{
		"admin",
		"directory.readwrite.all",
		"application.readwrite.all",
		"rolemanagement.readwrite.directory",
		"full_access_as_app",
		"auth.admin",
		"cloud-platform",
	}
	for _, needle := range privilegedNeedles {
		if strings.Contains(scope, needle) {
			return true
		}
	}
	return false
}

func isUserWriteScope(scope string) bool {
	userWriteNeedles := []string{
		"user.readwrite",
		"users:write",
		"directory.user",
		"profile.write",
	}
	for _, needle := range userWriteNeedles {
		if strings.Contains(scope, needle) {
			return true
		}
	}
	return false
}

func isDirectoryWriteScope(scope string) bool {
	directoryWriteNeedles := []string{
		"directory.readwrite",
		"group.readwrite",
		"groups:write",
		"admin.directory",
	}
	for _, needle := range directoryWriteNeedles {
		if strings.Contains(scope, needle) {
			return true
		}
	}
	return false
}

func isFileAccessScope(scope string) bool {
	fileNeedles := []string{
		"files.readwrite",
		"files.read",
		"files:read",
		"files:write",
		"drive",
		"sites.readwrite",
	}
	for _, needle := range fileNeedles {
		if strings.Contains(scope, needle) {
			return true
		}
	}
	return false
}

func isMailSendScope(scope string) bool {
	mailNeedles := []string{
		"mail.send",
		"gmail.send",
		"mail.google.com",
		"chat:write",
		"smtp.send",
	}
	for _, needle := range mailNeedles {
		if strings.Contains(scope, needle) {
			return true
		}
	}
	return false
}

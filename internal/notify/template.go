// internal/notify/template.go
package notify

import (
	"strings"

	"partner-portal-engine/internal/models"
)

// TokenData builds the substitution map for a recipient. Missing fields stay
// absent and render as empty substitutions, never literal tokens.
func TokenData(info models.RecipientInfo) map[string]string {
	data := map[string]string{}
	if info.FirstName != "" {
		data["firstName"] = info.FirstName
	}
	if info.LastName != "" {
		data["lastName"] = info.LastName
	}
	if fullName := strings.TrimSpace(info.FirstName + " " + info.LastName); fullName != "" {
		data["fullName"] = fullName
	}
	if info.CompanyName != "" {
		data["companyName"] = info.CompanyName
	}
	if info.Email != "" {
		data["userEmail"] = info.Email
	}
	return data
}

// Render substitutes {{token}} placeholders in tmpl. Known tokens are replaced
// with their values; any remaining placeholder is removed so placeholder
// syntax never leaks to end users.
func Render(tmpl string, data map[string]string) string {
	result := tmpl

	for k, v := range data {
		result = strings.ReplaceAll(result, "{{"+k+"}}", v)
	}

	// Strip unmatched placeholders ({{missing}} -> empty string)
	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		end += start + 2
		result = result[:start] + result[end:]
	}

	return result
}

// MergeTokens layers event-specific tokens over the recipient tokens.
func MergeTokens(base map[string]string, extra map[string]string) map[string]string {
	if len(extra) == 0 {
		return base
	}
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// internal/notify/template_test.go
package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"partner-portal-engine/internal/models"
)

func TestRender_SubstitutesKnownTokens(t *testing.T) {
	out := Render("Hello {{firstName}}, your quote {{quoteNumber}} is ready", map[string]string{
		"firstName":   "Ada",
		"quoteNumber": "QT-20260301-AB12CD",
	})
	assert.Equal(t, "Hello Ada, your quote QT-20260301-AB12CD is ready", out)
}

func TestRender_StripsUnmatchedTokens(t *testing.T) {
	out := Render("{{firstName}} {{lastName}}", map[string]string{
		"firstName": "Ada",
	})
	// Unknown placeholders are removed, not left in the message.
	assert.Equal(t, "Ada ", out)
}

func TestRender_NoTokens(t *testing.T) {
	out := Render("A plain message", map[string]string{"firstName": "Ada"})
	assert.Equal(t, "A plain message", out)
}

func TestRender_EmptyData(t *testing.T) {
	out := Render("Hi {{firstName}}, welcome", nil)
	assert.Equal(t, "Hi , welcome", out)
}

func TestTokenData(t *testing.T) {
	info := models.RecipientInfo{
		ID:          "u-1",
		FirstName:   "Ada",
		LastName:    "Lovelace",
		CompanyName: "Analytical Engines Ltd",
		Email:       "ada@example.com",
	}

	tokens := TokenData(info)

	assert.Equal(t, "Ada", tokens["firstName"])
	assert.Equal(t, "Lovelace", tokens["lastName"])
	assert.Equal(t, "Ada Lovelace", tokens["fullName"])
	assert.Equal(t, "Analytical Engines Ltd", tokens["companyName"])
	assert.Equal(t, "ada@example.com", tokens["userEmail"])
}

func TestTokenData_PartialRecipient(t *testing.T) {
	tokens := TokenData(models.RecipientInfo{FirstName: "Ada"})

	assert.Equal(t, "Ada", tokens["fullName"])
	_, hasCompany := tokens["companyName"]
	assert.False(t, hasCompany)
	_, hasEmail := tokens["userEmail"]
	assert.False(t, hasEmail)
}

func TestTokenData_EmptyRecipient(t *testing.T) {
	tokens := TokenData(models.RecipientInfo{})
	_, hasFull := tokens["fullName"]
	assert.False(t, hasFull)
}

func TestMergeTokens_ExtraWins(t *testing.T) {
	base := map[string]string{"fullName": "Partner Person", "firstName": "Partner"}
	extra := map[string]string{"fullName": "Customer Person", "quoteNumber": "QT-1"}

	merged := MergeTokens(base, extra)

	assert.Equal(t, "Customer Person", merged["fullName"])
	assert.Equal(t, "Partner", merged["firstName"])
	assert.Equal(t, "QT-1", merged["quoteNumber"])
	// Base map is not mutated.
	assert.Equal(t, "Partner Person", base["fullName"])
}

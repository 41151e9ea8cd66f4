// internal/notify/registry_test.go
package notify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partner-portal-engine/internal/models"
)

func TestNewRegistry_BuiltinLookup(t *testing.T) {
	reg := NewRegistry()

	tmpl, ok := reg.Lookup(EventQuoteExpiringSoon, models.RoleCustomer)
	assert.True(t, ok)
	assert.Equal(t, "Your quote expires tomorrow", tmpl.Title)
	assert.Contains(t, tmpl.Message, "{{quoteNumber}}")

	// No partner template for the warning: only the customer is nudged.
	_, ok = reg.Lookup(EventQuoteExpiringSoon, models.RolePartner)
	assert.False(t, ok)

	_, ok = reg.Lookup("unknown_event", models.RoleCustomer)
	assert.False(t, ok)
}

func TestNewRegistry_ExpiredHasDistinctBodies(t *testing.T) {
	reg := NewRegistry()

	customer, ok := reg.Lookup(EventQuoteExpired, models.RoleCustomer)
	require.True(t, ok)
	partner, ok := reg.Lookup(EventQuoteExpired, models.RolePartner)
	require.True(t, ok)

	assert.NotEqual(t, customer.Message, partner.Message)
}

func TestLoadRegistry_MergesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.json")
	override := `{
		"quote_expired": {
			"customer": {
				"title": "Quote lapsed",
				"message": "Hi {{firstName}}, quote {{quoteNumber}} lapsed."
			}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(override), 0o644))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)

	// Overridden entry.
	tmpl, ok := reg.Lookup(EventQuoteExpired, models.RoleCustomer)
	assert.True(t, ok)
	assert.Equal(t, "Quote lapsed", tmpl.Title)

	// Untouched built-ins survive the merge.
	tmpl, ok = reg.Lookup(EventQuoteExpired, models.RolePartner)
	assert.True(t, ok)
	assert.Equal(t, "Quote expired", tmpl.Title)
}

func TestLoadRegistry_RejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.json")

	// Missing required "message" field.
	bad := `{"quote_expired": {"customer": {"title": "Quote lapsed"}}}`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))

	_, err := LoadRegistry(path)
	assert.Error(t, err)
}

func TestLoadRegistry_MissingFile(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

// internal/models/recipient.go
package models

// RecipientRole identifies which side of the marketplace a recipient is on.
type RecipientRole string

const (
	RoleCustomer RecipientRole = "customer"
	RolePartner  RecipientRole = "partner"
	RoleAdmin    RecipientRole = "admin"
)

// RecipientInfo carries the contact and template data for one notification
// recipient. Missing fields render as empty substitutions.
type RecipientInfo struct {
	ID           string        `json:"id"`
	FirstName    string        `json:"firstName"`
	LastName     string        `json:"lastName"`
	CompanyName  string        `json:"companyName"`
	Email        string        `json:"email"`
	Phone        string        `json:"phone"`
	Role         RecipientRole `json:"role"`
	EmailEnabled bool          `json:"emailEnabled"`
	SMSEnabled   bool          `json:"smsEnabled"`
}

package domain

// Recipient is a resolved lead contact.
type Recipient struct {
	LeadID      string
	Address     string
	ContactName string
	Company     string
}

// Owner is the CRM user on whose behalf emails are sent.
type Owner struct {
	ID          string
	DisplayName string
	DailyLimit  int
}

package domain

import "strings"

// Investor is an outreach contact.
type Investor struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	FirstName      string `json:"first_name" db:"first_name"`
	LastName       string `json:"last_name" db:"last_name"`
	Email          string `json:"email" db:"email"`
	Firm           string `json:"firm" db:"firm"`
	Title          string `json:"title" db:"title"`
	LinkedInURL    string `json:"linkedin_url" db:"linkedin_url"`
}

// FullName joins first and last name, skipping empty parts.
func (i *Investor) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(i.FirstName) + " " + strings.TrimSpace(i.LastName))
}

// Summary returns the listing view of the investor.
func (i *Investor) Summary() InvestorSummary {
	return InvestorSummary{ID: i.ID, Name: i.FullName(), Email: i.Email, Firm: i.Firm}
}

// InvestorSummary is attached to enrollment listings.
type InvestorSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Firm  string `json:"firm"`
}

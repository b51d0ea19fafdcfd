package plannr

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Resource is a Plannr resource collection, named by its path segment.
type Resource string

// Resources supported by the generic CRUD wrappers.
const (
	Accounts             Resource = "accounts"
	Plans                Resource = "plans"
	Tasks                Resource = "tasks"
	Cases                Resource = "cases"
	Conversations        Resource = "conversations"
	Notes                Resource = "notes"
	Documents            Resource = "documents"
	AutomationBlueprints Resource = "automation-blueprints"
	Forms                Resource = "forms"
)

// Resources lists every supported resource.
var Resources = []Resource{
	Accounts, Plans, Tasks, Cases, Conversations, Notes, Documents, AutomationBlueprints, Forms,
}

// ParseResource returns the Resource named s.
func ParseResource(s string) (Resource, error) {
	for _, r := range Resources {
		if string(r) == strings.ToLower(s) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown resource %q", s)
}

// Object is an opaque Plannr record. The API surface is versioned by Plannr
// and only the identifier is relied upon here.
type Object map[string]any

// ID returns the record identifier, preferring Plannr's "_id" field.
func (o Object) ID() string {
	for _, k := range []string{"_id", "id", "uuid"} {
		switch v := o[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// Name returns the "name" field of the record, if any.
func (o Object) Name() string {
	s, _ := o["name"].(string)
	return s
}

// ListOptions are the common query parameters for collection endpoints.
type ListOptions struct {
	Limit  int    `url:"limit,omitempty"`
	Offset int    `url:"offset,omitempty"`
	Sort   string `url:"sort,omitempty"`
	Select string `url:"select,omitempty"`
}

// searchOptions are the query parameters for the search endpoint.
type searchOptions struct {
	Query string `url:"q"`
	Type  string `url:"type,omitempty"`
	Limit int    `url:"limit,omitempty"`
}

// Date is a calendar date marshalled as "2006-01-02".
type Date struct {
	time.Time
}

// NewDate returns the Date for t, dropping the time of day.
func NewDate(t time.Time) Date {
	return Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// MarshalJSON implements the json.Marshaler interface.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format("2006-01-02"))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// Address is the postal address of a client.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

// CustomFields holds the firm specific fields attached to a client.
type CustomFields struct {
	Source      string `json:"source"`
	Priority    string `json:"priority"`
	LastContact Date   `json:"lastContact"`
}

// ClientRecord is the payload for creating a client.
type ClientRecord struct {
	ExternalID             string       `json:"externalId,omitempty"`
	FirstName              string       `json:"firstName"`
	LastName               string       `json:"lastName"`
	Email                  string       `json:"email"`
	Phone                  string       `json:"phone"`
	Address                Address      `json:"address"`
	Advisor                string       `json:"advisor"`
	Status                 string       `json:"status"`
	DateOfBirth            Date         `json:"dateOfBirth"`
	Occupation             string       `json:"occupation"`
	Company                string       `json:"company"`
	Notes                  string       `json:"notes"`
	PreferredContactMethod string       `json:"preferredContactMethod"`
	RiskTolerance          string       `json:"riskTolerance"`
	InvestmentGoals        string       `json:"investmentGoals"`
	AnnualIncome           int          `json:"annualIncome"`
	NetWorth               int          `json:"netWorth"`
	Tags                   []string     `json:"tags"`
	CustomFields           CustomFields `json:"customFields"`
}

// FullName returns the first and last name of the client.
func (cr ClientRecord) FullName() string {
	return strings.TrimSpace(cr.FirstName + " " + cr.LastName)
}

// Created is the outcome of a successful create call.
type Created struct {
	ID         string `json:"id"`
	StatusCode int    `json:"status_code"`
	Data       Object `json:"data"`
}

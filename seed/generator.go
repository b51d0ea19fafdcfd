// Package seed generates synthetic Plannr client records for test firms.
//
// Values are drawn from fixed pools, so records look plausible but are not unique: two
// clients may share a name or email address.
package seed

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rorycl/crmkit/apiclients/plannr"
	"github.com/rorycl/crmkit/config"
)

var firstNames = []string{
	"John", "Jane", "Michael", "Sarah", "David", "Lisa", "Robert", "Mary",
	"William", "Jennifer", "James", "Patricia", "Christopher", "Linda", "Matthew",
	"Elizabeth", "Daniel", "Susan", "Mark", "Jessica", "Anthony", "Karen",
	"Steven", "Nancy", "Paul", "Betty", "Andrew", "Helen", "Kenneth", "Sandra",
	"Joshua", "Donna", "Kevin", "Carol", "Brian", "Ruth", "George", "Sharon",
	"Timothy", "Michelle", "Ronald", "Laura", "Jason", "Edward", "Kimberly",
	"Jeffrey", "Deborah", "Ryan", "Dorothy", "Jacob", "Amy", "Gary", "Angela",
}

var lastNames = []string{
	"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis",
	"Rodriguez", "Martinez", "Hernandez", "Lopez", "Gonzalez", "Wilson", "Anderson",
	"Thomas", "Taylor", "Moore", "Jackson", "Martin", "Lee", "Perez", "Thompson",
	"White", "Harris", "Sanchez", "Clark", "Ramirez", "Lewis", "Robinson", "Walker",
	"Young", "Allen", "King", "Wright", "Scott", "Torres", "Nguyen", "Hill",
	"Flores", "Green", "Adams", "Nelson", "Baker", "Hall", "Rivera", "Campbell",
	"Mitchell", "Carter", "Roberts", "Gomez", "Phillips", "Evans", "Turner",
}

var companies = []string{
	"Tech Solutions Inc", "Global Consulting", "Innovative Systems", "Alpha Corp",
	"Beta Industries", "Creative Designs", "Future Technologies", "Prime Services",
	"Elite Enterprises", "Advanced Solutions", "Dynamic Systems", "Strategic Partners",
	"Modern Solutions", "Digital Innovations", "Professional Services", "Quality Assurance Corp",
	"Excellence Group", "Premier Solutions", "Optimal Systems", "Superior Services",
}

// place is a city with its state, so addresses stay consistent.
type place struct {
	city, state string
}

var places = []place{
	{"New York", "NY"}, {"Los Angeles", "CA"}, {"Chicago", "IL"}, {"Houston", "TX"},
	{"Phoenix", "AZ"}, {"Philadelphia", "PA"}, {"San Antonio", "TX"}, {"San Diego", "CA"},
	{"Dallas", "TX"}, {"San Jose", "CA"}, {"Austin", "TX"}, {"Jacksonville", "FL"},
	{"Fort Worth", "TX"}, {"Columbus", "OH"}, {"Charlotte", "NC"}, {"San Francisco", "CA"},
	{"Indianapolis", "IN"}, {"Seattle", "WA"}, {"Denver", "CO"}, {"Washington", "DC"},
	{"Boston", "MA"}, {"Nashville", "TN"}, {"Oklahoma City", "OK"}, {"Las Vegas", "NV"},
	{"Detroit", "MI"}, {"Portland", "OR"}, {"Memphis", "TN"}, {"Louisville", "KY"},
	{"Baltimore", "MD"}, {"Milwaukee", "WI"},
}

var occupations = []string{
	"Software Engineer", "Project Manager", "Sales Representative", "Marketing Manager",
	"Financial Advisor", "Teacher", "Nurse", "Doctor", "Lawyer", "Accountant",
	"Consultant", "Designer", "Analyst", "Engineer", "Administrator", "Director",
	"Manager", "Specialist", "Coordinator", "Supervisor", "Executive", "Architect",
}

var (
	emailDomains    = []string{"gmail.com", "yahoo.com", "outlook.com", "company.com", "business.org"}
	streetNames     = []string{"Main", "Oak", "Pine", "Elm", "Cedar"}
	streetSuffixes  = []string{"St", "Ave", "Blvd", "Dr", "Ln"}
	contactMethods  = []string{"email", "phone", "mail"}
	riskTolerances  = []string{"conservative", "moderate", "aggressive"}
	investmentGoals = []string{
		"retirement planning", "wealth accumulation", "education funding", "estate planning", "tax planning",
	}
	priorities = []string{"high", "medium", "low"}
)

// Bounds of the generated values.
const (
	MinAge          = 18
	MaxAge          = 85
	MinAnnualIncome = 30000
	MaxAnnualIncome = 500000
	MinNetWorth     = 50000
	MaxNetWorth     = 2000000
	Source          = "API Import"
	CreatedTag      = "api-created"
)

// Generator produces synthetic client records. A Generator is not safe for concurrent
// use.
type Generator struct {
	rand *rand.Rand

	// Advisor is assigned to every record.
	Advisor string

	// Now returns the reference time for birth and last contact dates.
	Now func() time.Time
}

// NewGenerator returns a Generator drawing from src. A nil src is seeded from the
// clock.
func NewGenerator(src rand.Source) *Generator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Generator{
		rand:    rand.New(src),
		Advisor: config.DefaultAdvisor,
		Now:     time.Now,
	}
}

// Shuffle pseudo-randomizes n elements using swap, for use with Distribute.
func (g *Generator) Shuffle(n int, swap func(i, j int)) {
	g.rand.Shuffle(n, swap)
}

// between returns a random integer in [lo, hi].
func (g *Generator) between(lo, hi int) int {
	return lo + g.rand.Intn(hi-lo+1)
}

func (g *Generator) pick(pool []string) string {
	return pool[g.rand.Intn(len(pool))]
}

// Generate returns a record for a client with the given status.
func (g *Generator) Generate(status Status) plannr.ClientRecord {

	now := g.Now()
	first, last := g.pick(firstNames), g.pick(lastNames)
	where := places[g.rand.Intn(len(places))]

	// Subtracting under a year of days from the birthday keeps the age exact.
	age := g.between(MinAge, MaxAge)
	dob := now.AddDate(-age, 0, -g.rand.Intn(365))
	lastContact := now.AddDate(0, 0, -g.between(1, 365))

	return plannr.ClientRecord{
		ExternalID: g.externalID(),
		FirstName:  first,
		LastName:   last,
		Email:      fmt.Sprintf("%s.%s@%s", strings.ToLower(first), strings.ToLower(last), g.pick(emailDomains)),
		Phone:      fmt.Sprintf("(%d) %d-%d", g.between(200, 999), g.between(200, 999), g.between(1000, 9999)),
		Address: plannr.Address{
			Street:  fmt.Sprintf("%d %s %s", g.between(100, 9999), g.pick(streetNames), g.pick(streetSuffixes)),
			City:    where.city,
			State:   where.state,
			ZipCode: fmt.Sprintf("%05d", g.between(10000, 99999)),
			Country: "United States",
		},
		Advisor:                g.Advisor,
		Status:                 string(status),
		DateOfBirth:            plannr.NewDate(dob),
		Occupation:             g.pick(occupations),
		Company:                g.pick(companies),
		Notes:                  "Client created via API - Status: " + string(status),
		PreferredContactMethod: g.pick(contactMethods),
		RiskTolerance:          g.pick(riskTolerances),
		InvestmentGoals:        g.pick(investmentGoals),
		AnnualIncome:           g.between(MinAnnualIncome, MaxAnnualIncome),
		NetWorth:               g.between(MinNetWorth, MaxNetWorth),
		Tags:                   []string{string(status), CreatedTag},
		CustomFields: plannr.CustomFields{
			Source:      Source,
			Priority:    g.pick(priorities),
			LastContact: plannr.NewDate(lastContact),
		},
	}
}

// GenerateAll returns one record per status, in order.
func (g *Generator) GenerateAll(statuses []Status) []plannr.ClientRecord {
	records := make([]plannr.ClientRecord, len(statuses))
	for i, s := range statuses {
		records[i] = g.Generate(s)
	}
	return records
}

// externalID draws a version 4 uuid from the generator's source so seeded runs are
// repeatable.
func (g *Generator) externalID() string {
	id, err := uuid.NewRandomFromReader(g.rand)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

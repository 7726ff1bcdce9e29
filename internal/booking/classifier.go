package booking

import (
	"regexp"
	"strings"

	"crewbook/internal/config"
	"crewbook/internal/types"
)

// Commercial indicators in addresses (more specific terms).
var commercialKeywords = []string{
	"plaza", "mall", "shopping", "center", "centre", "office", "building",
	"tower", "complex", "suite", "floor", "inc", "ltd", "corp",
	"corporation", "company", "business", "enterprise", "industrial", "warehouse",
}

// Residential indicators.
var residentialKeywords = []string{
	"house", "home", "residence", "residential", "apartment", "apt", "condo",
	"condominium", "townhouse", "villa", "cottage", "bungalow",
}

var (
	suitePattern = regexp.MustCompile(`\b(suite|unit|floor)\s*\d+`)
	hashPattern  = regexp.MustCompile(`#\s*\d+`)
)

// commercial jobs are often $1000+
const commercialAmountHint = 1000

// Classifier assigns a job tag and crew from the quote's address, client
// name, and amount. Address keywords score double weight, client name
// keywords single weight, and ties default to residential as the safer
// assignment.
type Classifier struct {
	residentialCrew string
	commercialCrew  string
}

// NewClassifier creates a Classifier with the configured crew identifiers.
func NewClassifier(cfg config.SchedulingConfig) *Classifier {
	return &Classifier{
		residentialCrew: cfg.ResidentialCrew,
		commercialCrew:  cfg.CommercialCrew,
	}
}

// Classify returns the job tag for a quote.
func (c *Classifier) Classify(quote types.Quote) types.JobTag {
	address := strings.ToLower(quote.Address)
	client := strings.ToLower(quote.ClientName)

	var commercialScore, residentialScore int
	for _, kw := range commercialKeywords {
		if strings.Contains(address, kw) {
			commercialScore += 2
		}
		if strings.Contains(client, kw) {
			commercialScore++
		}
	}
	for _, kw := range residentialKeywords {
		if strings.Contains(address, kw) {
			residentialScore += 2
		}
		if strings.Contains(client, kw) {
			residentialScore++
		}
	}

	if quote.Amount >= commercialAmountHint {
		commercialScore++
	}
	if suitePattern.MatchString(address) {
		commercialScore += 2
	}
	if hashPattern.MatchString(address) {
		commercialScore++
	}

	if commercialScore > residentialScore {
		return types.TagCommercial
	}
	return types.TagResidential
}

// CrewFor maps a job tag to its crew identifier.
func (c *Classifier) CrewFor(tag types.JobTag) string {
	if tag == types.TagCommercial {
		return c.commercialCrew
	}
	return c.residentialCrew
}

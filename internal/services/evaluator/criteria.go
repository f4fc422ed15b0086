package evaluator

import (
	"strings"
	"time"

	"github.com/ternarybob/atozbot/internal/models"
)

// synonymGroups expand a configured category or excluded type into the
// spellings that appear on the portal
var synonymGroups = [][]string{
	{"telephone", "phone", "telephonic", "over the phone"},
	{"video", "vri", "remote video"},
	{"face to face", "in person", "onsite", "on site", "physical attendance"},
}

// Criteria is the normalised form of a BotConfiguration used by Evaluate
type Criteria struct {
	JobTypeFilter     string
	AcceptedKeywords  []string
	ExcludedKeywords  []string
	RequiredFields    []string
	AvailableStatuses []string
	MinLanguageLen    int
	MaxLanguageLen    int
	MinDuration       time.Duration
	MaxDuration       time.Duration
	Location          *time.Location
}

// CriteriaFrom builds evaluation criteria from a configuration
func CriteriaFrom(config *models.BotConfiguration) Criteria {
	c := Criteria{
		JobTypeFilter:     config.JobTypeFilter,
		RequiredFields:    append([]string(nil), config.RequiredFields...),
		AvailableStatuses: []string{"open", "matched"},
		MinLanguageLen:    2,
		MaxLanguageLen:    50,
		MinDuration:       30 * time.Minute,
		MaxDuration:       8 * time.Hour,
		Location:          time.Local,
	}

	if filter := normalize(config.JobTypeFilter); filter != "" {
		c.AcceptedKeywords = expand([]string{filter})
	}
	var excluded []string
	for _, t := range config.ExcludeTypes {
		if n := normalize(t); n != "" {
			excluded = append(excluded, n)
		}
	}
	c.ExcludedKeywords = expand(excluded)

	return c
}

// expand adds the synonym group of every term that mentions a group member
func expand(terms []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, term := range terms {
		add(term)
		for _, group := range synonymGroups {
			for _, word := range group {
				if strings.Contains(term, word) {
					for _, syn := range group {
						add(syn)
					}
					break
				}
			}
		}
	}
	return out
}

// normalize lowercases, turns hyphens into spaces and collapses whitespace so
// "Face-to-Face" and "face to  face" compare equal
func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "-", " ")
	return strings.Join(strings.Fields(s), " ")
}

// firstMatch returns the first keyword contained in text
func firstMatch(text string, keywords []string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

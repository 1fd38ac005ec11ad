package source

import (
	"strings"

	"opportunist/internal/model"
)

// categoryKeywords is checked in order: the first category with a matching
// keyword wins, so "PhD internship" classifies as an internship.
var categoryKeywords = []struct {
	category model.Category
	keywords []string
}{
	{model.CategoryInternship, []string{
		"intern", "internship", "summer program", "co-op", "coop",
		"student", "trainee", "apprentice",
	}},
	{model.CategoryScholarship, []string{
		"scholarship", "fellowship", "financial aid", "stipend", "bursary",
	}},
	{model.CategoryResearch, []string{
		"research", "phd", "postdoc", "researcher", "scientist",
		"academic", "faculty",
	}},
	{model.CategoryCompetition, []string{
		"competition", "contest", "challenge", "hackathon",
		"tournament", "prize",
	}},
	{model.CategoryGrant, []string{
		"grant", "funding", "sponsored", "seed funding", "venture",
	}},
}

// Classify assigns a category from title and description keywords.
// Nothing matching defaults to a job listing.
func Classify(title, description string) model.Category {
	text := strings.ToLower(title + " " + description)
	for _, group := range categoryKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(text, kw) {
				return group.category
			}
		}
	}
	return model.CategoryJob
}

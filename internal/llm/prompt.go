package llm

import (
	"strings"

	"grocery-backend/internal/grocery"
)

// BuildExtractionPrompt composes the fixed extraction instruction around the
// raw document text. The negative sentinel lets the worker distinguish "no
// list in this document" from a malformed response.
func BuildExtractionPrompt(text string) string {
	parts := []string{
		"You are a helpful assistant that extracts grocery items alongside their quantities and unit from text.",
		"If the text contains a grocery list, respond with ONLY the list of items alongside their quantity and unit in this format:",
		"- Item 1, kg",
		"- Item 2, kg",
		"- Item 3, kg",
		"",
		`If the text does NOT contain a grocery list, respond with: "` + grocery.NoListSentinel + `"`,
		"",
		"Here is the text:",
		text,
	}
	return strings.Join(parts, "\n")
}

// Package prompts builds the prompts sent to the category classifier.
package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-identity/pkg/models"
)

// ClassifierSystemMessage frames every classifier call.
const ClassifierSystemMessage = "You organize a person's interests into a tree of preference categories. " +
	"Respond with a single JSON object and nothing else."

// BuildCategorizePrompt asks where a free-text interest belongs among the
// identity's existing categories. The expected reply is
// {"category": string, "categoryId": string|null, "isNew": bool, "suggestedType": string}.
func BuildCategorizePrompt(req *models.CategorizeRequest) string {
	var prompt strings.Builder

	prompt.WriteString("# Categorize an Interest\n\n")
	prompt.WriteString(fmt.Sprintf("The user wants to add: %q\n\n", req.Text))

	if req.SourceCategoryHint != "" {
		prompt.WriteString(fmt.Sprintf("They started from the category %q, which is a strong hint.\n\n", req.SourceCategoryHint))
	}

	prompt.WriteString("## Existing Categories\n\n")
	if len(req.Categories) == 0 {
		prompt.WriteString("(none yet)\n")
	}
	for _, c := range req.Categories {
		prompt.WriteString(fmt.Sprintf("- id=%s path=%q type=%s\n", c.ID, pathOrName(c), c.Type))
	}

	prompt.WriteString("\n## Instructions\n\n")
	prompt.WriteString("Pick the most specific existing category that fits. ")
	prompt.WriteString("Only propose a new top-level category when none of the existing ones is a reasonable home.\n\n")

	prompt.WriteString("## Response Format\n\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(`{"category": "<name>", "categoryId": "<existing id or null>", "isNew": false, "suggestedType": "<music|food|shopping|news|custom>"}`)
	prompt.WriteString("\n```\n")

	return prompt.String()
}

// BuildSuggestPrompt asks for new category ideas, optionally beneath a parent.
// The expected reply is {"suggestions": [{"name", "reason", "type"}]}.
func BuildSuggestPrompt(req *models.SuggestRequest) string {
	var prompt strings.Builder

	prompt.WriteString("# Suggest Categories\n\n")
	if req.ParentCategoryName != "" {
		prompt.WriteString(fmt.Sprintf("Suggest subcategories for %q.\n\n", req.ParentCategoryName))
	} else {
		prompt.WriteString("Suggest new top-level interest categories.\n\n")
	}

	if len(req.Existing) > 0 {
		prompt.WriteString("Already present (do not repeat):\n")
		for _, name := range req.Existing {
			prompt.WriteString(fmt.Sprintf("- %s\n", name))
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("## Response Format\n\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(`{"suggestions": [{"name": "<name>", "reason": "<one sentence>", "type": "<type>"}]}`)
	prompt.WriteString("\n```\n")

	return prompt.String()
}

func pathOrName(c models.CategoryOption) string {
	if c.Path != "" {
		return c.Path
	}
	return c.Name
}

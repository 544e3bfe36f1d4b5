package automation

import (
	"strings"

	"github.com/kazz187/cardflow/internal/board"
)

// RenderPrompt substitutes the card and column variables into template.
// {last_agent_output} is always empty: output of an earlier stage is not
// threaded into the next prompt. Unknown placeholders are left as written.
func RenderPrompt(template string, card *board.Card, column *board.Column) string {
	if template == "" {
		template = defaultPromptTemplate
	}
	r := strings.NewReplacer(
		"{card_title}", card.Title,
		"{card_description}", card.Description,
		"{card_labels}", strings.Join(card.Labels, ", "),
		"{card_priority}", card.Priority,
		"{column_name}", column.Name,
		"{agent_type}", column.Automation.AgentType,
		"{last_agent_output}", "",
	)
	return r.Replace(template)
}

const defaultPromptTemplate = "{card_title}\n\n{card_description}"

// cardPriority maps a card's priority label to the task poll priority.
func cardPriority(label string) int {
	switch strings.ToLower(label) {
	case "critical", "urgent":
		return 3
	case "high":
		return 2
	case "medium":
		return 1
	default:
		return 0
	}
}

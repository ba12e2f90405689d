package model

import (
	"strings"
	"unicode/utf8"
)

// MaxTitleLength is the maximum number of characters in a todo or preset title.
const MaxTitleLength = 200

// Priority represents a todo priority.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// IsValid checks if the priority is valid.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Rank returns the sort rank of the priority (high sorts first).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 0
	}
}

// Todo represents a single todo item.
type Todo struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	CreatedAt   Timestamp  `json:"createdAt"`
	UpdatedAt   Timestamp  `json:"updatedAt"`
	CompletedAt *Timestamp `json:"completedAt"`
	StartDate   *string    `json:"startDate,omitempty"`
	EndDate     *string    `json:"endDate,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
}

// TodoPatch carries the fields of a partial todo update.
type TodoPatch struct {
	Title       Field[string]   `json:"title"`
	Description Field[string]   `json:"description"`
	Completed   Field[bool]     `json:"completed"`
	StartDate   Field[string]   `json:"startDate"`
	EndDate     Field[string]   `json:"endDate"`
	Priority    Field[Priority] `json:"priority"`
}

// NormalizeTitle trims s and truncates it to MaxTitleLength characters.
// It reports false when nothing is left.
func NormalizeTitle(s string) (string, bool) {
	return normalizeText(s, MaxTitleLength)
}

func normalizeText(s string, limit int) (string, bool) {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > limit {
		s = string([]rune(s)[:limit])
	}
	return s, s != ""
}

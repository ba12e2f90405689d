package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/todoflow/server/internal/model"
	"github.com/todoflow/server/internal/module/todo"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Strikethrough(true)
	idStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	badgeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("24")).Padding(0, 1)

	priorityStyles = map[model.Priority]lipgloss.Style{
		model.PriorityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		model.PriorityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		model.PriorityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	}
)

const shortIDLen = 8

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

func renderTodo(t model.Todo) string {
	box := "[ ]"
	title := t.Title
	if t.Completed {
		box = "[x]"
		title = doneStyle.Render(title)
	}

	parts := []string{idStyle.Render(shortID(t.ID)), box, title}
	if t.Priority != nil {
		parts = append(parts, priorityStyles[*t.Priority].Render(string(*t.Priority)))
	}
	if dates := renderDates(t); dates != "" {
		parts = append(parts, mutedStyle.Render(dates))
	}
	return strings.Join(parts, " ")
}

func renderDates(t model.Todo) string {
	switch {
	case t.StartDate != nil && t.EndDate != nil:
		return *t.StartDate + " → " + *t.EndDate
	case t.StartDate != nil:
		return "from " + *t.StartDate
	case t.EndDate != nil:
		return "due " + *t.EndDate
	}
	return ""
}

func renderList(st todo.State, bypass bool) string {
	var b strings.Builder

	completed, total := todo.Stats(st.Todos)
	header := headerStyle.Render(fmt.Sprintf("Todos %d/%d", completed, total))
	if bypass {
		header += " " + badgeStyle.Render("e2e")
	}
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("sort %s %s, filter %s", st.SortType, st.SortOrder, st.FilterMode)))
	b.WriteString("\n")

	view := todo.View(st)
	if len(view) == 0 {
		b.WriteString(mutedStyle.Render(todo.EmptyMessage(st.FilterMode)))
		b.WriteString("\n")
		return b.String()
	}
	for _, t := range view {
		b.WriteString(renderTodo(t))
		b.WriteString("\n")
	}
	return b.String()
}

func renderPresets(presets []model.Preset) string {
	if len(presets) == 0 {
		return mutedStyle.Render("No presets yet.") + "\n"
	}
	var b strings.Builder
	for _, p := range presets {
		b.WriteString(idStyle.Render(shortID(p.ID)))
		b.WriteString(" ")
		b.WriteString(p.Title)
		b.WriteString("\n")
	}
	return b.String()
}

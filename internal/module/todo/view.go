package todo

import (
	"sort"
	"strings"
	"time"

	"github.com/todoflow/server/internal/model"
)

// SortType is the key todos are sorted by.
type SortType string

const (
	SortCreated   SortType = "created"
	SortPriority  SortType = "priority"
	SortStartDate SortType = "startDate"
	SortEndDate   SortType = "endDate"
)

// IsValid checks if the sort type is valid.
func (t SortType) IsValid() bool {
	switch t {
	case SortCreated, SortPriority, SortStartDate, SortEndDate:
		return true
	default:
		return false
	}
}

// SortOrder is the sort direction.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// IsValid checks if the sort order is valid.
func (o SortOrder) IsValid() bool {
	return o == SortAsc || o == SortDesc
}

// FilterMode selects which todos the list view shows.
type FilterMode string

const (
	FilterAll        FilterMode = "all"
	FilterIncomplete FilterMode = "incomplete"
	FilterCompleted  FilterMode = "completed"
)

// IsValid checks if the filter mode is valid.
func (m FilterMode) IsValid() bool {
	switch m {
	case FilterAll, FilterIncomplete, FilterCompleted:
		return true
	default:
		return false
	}
}

// ViewMode selects the list or calendar presentation.
type ViewMode string

const (
	ViewList     ViewMode = "list"
	ViewCalendar ViewMode = "calendar"
)

// IsValid checks if the view mode is valid.
func (m ViewMode) IsValid() bool {
	return m == ViewList || m == ViewCalendar
}

// SortTodos returns a sorted copy of todos. The sort is stable. A todo
// missing the sort field compares after one that has it, and the whole
// comparison is then negated for descending order, so in descending order
// todos without the field come first.
func SortTodos(todos []model.Todo, key SortType, order SortOrder) []model.Todo {
	out := make([]model.Todo, len(todos))
	copy(out, todos)

	sort.SliceStable(out, func(i, j int) bool {
		c := compareTodos(out[i], out[j], key)
		if order == SortDesc {
			c = -c
		}
		return c < 0
	})
	return out
}

func compareTodos(a, b model.Todo, key SortType) int {
	switch key {
	case SortPriority:
		if a.Priority == nil && b.Priority == nil {
			return 0
		}
		if a.Priority == nil {
			return 1
		}
		if b.Priority == nil {
			return -1
		}
		return a.Priority.Rank() - b.Priority.Rank()
	case SortStartDate:
		return compareOptional(a.StartDate, b.StartDate)
	case SortEndDate:
		return compareOptional(a.EndDate, b.EndDate)
	default:
		return a.CreatedAt.Compare(b.CreatedAt.Time)
	}
}

func compareOptional(a, b *string) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return strings.Compare(*a, *b)
	}
}

// FilterTodos returns the todos matching mode without touching the input.
func FilterTodos(todos []model.Todo, mode FilterMode) []model.Todo {
	out := make([]model.Todo, 0, len(todos))
	for _, t := range todos {
		switch mode {
		case FilterIncomplete:
			if t.Completed {
				continue
			}
		case FilterCompleted:
			if !t.Completed {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

// View returns the list view for s: filtered, then sorted.
func View(s State) []model.Todo {
	return SortTodos(FilterTodos(s.Todos, s.FilterMode), s.SortType, s.SortOrder)
}

// EmptyMessage returns the text shown when mode leaves nothing to list.
func EmptyMessage(mode FilterMode) string {
	switch mode {
	case FilterCompleted:
		return "No completed todos."
	case FilterIncomplete:
		return "All todos are done!"
	default:
		return "Add a new todo above!"
	}
}

// Stats returns the number of completed todos and the total.
func Stats(todos []model.Todo) (completed, total int) {
	for _, t := range todos {
		if t.Completed {
			completed++
		}
	}
	return completed, len(todos)
}

// TodosOnDate returns the todos shown on a calendar day. A todo with only a
// start or only an end date shows on that day; one with both shows on every
// day of the inclusive range.
func TodosOnDate(todos []model.Todo, date string, hideCompleted bool) []model.Todo {
	day, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return nil
	}

	out := make([]model.Todo, 0)
	for _, t := range todos {
		if hideCompleted && t.Completed {
			continue
		}
		if onDate(t, date, day) {
			out = append(out, t)
		}
	}
	return out
}

func onDate(t model.Todo, date string, day time.Time) bool {
	switch {
	case t.StartDate != nil && t.EndDate == nil:
		return *t.StartDate == date
	case t.StartDate == nil && t.EndDate != nil:
		return *t.EndDate == date
	case t.StartDate != nil && t.EndDate != nil:
		start, err := time.Parse(model.DateLayout, *t.StartDate)
		if err != nil {
			return false
		}
		end, err := time.Parse(model.DateLayout, *t.EndDate)
		if err != nil {
			return false
		}
		return !day.Before(start) && !day.After(end)
	default:
		return false
	}
}

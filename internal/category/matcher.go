package category

import (
	"fmt"
	"strings"
)

// Category is one canonical expense category. The list is owned by the
// category store and read-only to this package.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Item is one receipt line item as reported by the model. Category is the
// model's free-text suggestion, not validated against the canonical list.
type Item struct {
	Name     string
	Amount   float64
	Category string
}

// ExpenseGroup is one canonical category's worth of a receipt. Amount is the
// sum of the group's raw item amounts formatted to two decimals.
type ExpenseGroup struct {
	CategoryID   string   `json:"category_id"`
	CategoryName string   `json:"category_name"`
	Amount       string   `json:"amount"`
	Items        []string `json:"items"`
}

// Group pairs a raw category label with its items in first-seen order.
type Group struct {
	Label string
	Items []Item
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Match resolves a free-text label to a canonical category. Exact
// case-insensitive matches win over substring matches, which win over the
// locale fallback category ("inne" or "other"), which wins over the first
// category in the list. Requires a non-empty category list.
func Match(label string, categories []Category) Category {
	norm := normalize(label)

	for _, c := range categories {
		if normalize(c.Name) == norm {
			return c
		}
	}

	// Either containment direction counts, including the degenerate empty
	// cases: an empty label is a substring of every name, so it resolves to
	// the first category here.
	for _, c := range categories {
		name := normalize(c.Name)
		if strings.Contains(norm, name) || strings.Contains(name, norm) {
			return c
		}
	}

	for _, c := range categories {
		if name := normalize(c.Name); name == "inne" || name == "other" {
			return c
		}
	}

	return categories[0]
}

// GroupByLabel groups items by their raw, unnormalized category label.
// Labels differing only by case or whitespace form separate groups even when
// they would resolve to the same canonical category; group order is
// first-seen order and item order within a group is input order.
func GroupByLabel(items []Item) []Group {
	index := make(map[string]int)
	groups := make([]Group, 0)

	for _, it := range items {
		i, ok := index[it.Category]
		if !ok {
			i = len(groups)
			index[it.Category] = i
			groups = append(groups, Group{Label: it.Category})
		}
		groups[i].Items = append(groups[i].Items, it)
	}

	return groups
}

// MapExpenses groups items by raw label, resolves each group to a canonical
// category and formats amounts. Output order follows group discovery order.
// Requires a non-empty category list; an empty list is a configuration error
// the caller must rule out.
func MapExpenses(items []Item, categories []Category) []ExpenseGroup {
	groups := GroupByLabel(items)
	expenses := make([]ExpenseGroup, 0, len(groups))

	for _, g := range groups {
		matched := Match(g.Label, categories)

		var sum float64
		lines := make([]string, 0, len(g.Items))
		for _, it := range g.Items {
			sum += it.Amount
			lines = append(lines, fmt.Sprintf("%s - %.2f", it.Name, it.Amount))
		}

		expenses = append(expenses, ExpenseGroup{
			CategoryID:   matched.ID,
			CategoryName: matched.Name,
			Amount:       fmt.Sprintf("%.2f", sum),
			Items:        lines,
		})
	}

	return expenses
}

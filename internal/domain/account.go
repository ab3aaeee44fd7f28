package domain

// AccountItem is a chart-of-accounts entry. ShortcutNum is the code the
// extraction service suggests (e.g. "7620" for 会議費).
type AccountItem struct {
	ID             int64
	Name           string
	Shortcut       string
	ShortcutNum    string
	DefaultTaxCode int64
	Categories     []string
}

// HasCategory reports whether the item belongs to the given category.
func (a AccountItem) HasCategory(category string) bool {
	for _, c := range a.Categories {
		if c == category {
			return true
		}
	}
	return false
}

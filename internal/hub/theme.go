package hub

import "fmt"

// Theme is the process-wide display theme shared by every connection.
type Theme string

const (
	ThemeLight Theme = "LIGHT"
	ThemeDark  Theme = "DARK"
)

// ParseTheme converts a configuration value into a Theme.
func ParseTheme(s string) (Theme, error) {
	switch Theme(s) {
	case ThemeLight, ThemeDark:
		return Theme(s), nil
	default:
		return "", fmt.Errorf("unknown theme %q", s)
	}
}

// Toggled returns the opposite theme.
func (t Theme) Toggled() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

// ThemeState holds the single theme value. It is owned by the hub's
// dispatch loop and is not safe for concurrent use.
type ThemeState struct {
	current Theme
}

// NewThemeState creates the state with the given starting value.
func NewThemeState(initial Theme) *ThemeState {
	if initial != ThemeDark {
		initial = ThemeLight
	}
	return &ThemeState{current: initial}
}

// Current returns the theme in effect.
func (s *ThemeState) Current() Theme {
	return s.current
}

// Toggle flips LIGHT and DARK and returns the new value.
func (s *ThemeState) Toggle() Theme {
	s.current = s.current.Toggled()
	return s.current
}

package widget

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Theme is the widget's appearance, loaded from an optional YAML file.
// A missing file falls back to defaults; a broken file warns and falls back.
type Theme struct {
	Title       string      `yaml:"title"`
	Welcome     string      `yaml:"welcome"`
	Placeholder string      `yaml:"placeholder"`
	BotLabel    string      `yaml:"botLabel"`
	UserLabel   string      `yaml:"userLabel"`
	Colors      ThemeColors `yaml:"colors"`
}

type ThemeColors struct {
	Primary    string `yaml:"primary"`
	Background string `yaml:"background"`
	UserBubble string `yaml:"userBubble"`
	BotBubble  string `yaml:"botBubble"`
}

func DefaultTheme() *Theme {
	return &Theme{
		Title:       "Chat",
		Welcome:     "Hi! How can I help you today?",
		Placeholder: "Type a message...",
		BotLabel:    "Assistant",
		UserLabel:   "You",
		Colors: ThemeColors{
			Primary:    "#4f46e5",
			Background: "#ffffff",
			UserBubble: "#4f46e5",
			BotBubble:  "#f3f4f6",
		},
	}
}

// LoadTheme reads the theme file at path. Empty fields keep their defaults.
func LoadTheme(path string, logger *slog.Logger) *Theme {
	theme := DefaultTheme()
	if path == "" {
		return theme
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("cannot read theme file, using defaults", "path", path, "err", err)
		}
		return theme
	}

	if err := yaml.Unmarshal(data, theme); err != nil {
		logger.Warn("cannot parse theme file, using defaults", "path", path, "err", err)
		return DefaultTheme()
	}
	return theme
}

// SaveTheme writes a theme file, used by "chatrelay init" to seed one.
func SaveTheme(path string, theme *Theme) error {
	data, err := yaml.Marshal(theme)
	if err != nil {
		return fmt.Errorf("cannot marshal theme: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

package models

import "time"

// SavedView is a named, shareable filter link.
type SavedView struct {
	Name    string    `yaml:"name"`
	Query   string    `yaml:"query"`
	SavedAt time.Time `yaml:"savedAt"`
}

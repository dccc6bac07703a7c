package domain

import "time"

// Org represents a hospitality business (restaurant group, hotel chain, ...).
type Org struct {
	ID        int64
	Name      string
	Slug      string
	Country   string
	Timezone  string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Site is a physical location belonging to an org.
type Site struct {
	ID        int64
	OrgID     int64
	Name      string
	Code      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

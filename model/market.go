package model

import "time"

// Category is a closed set of market topics used for alert routing and gating.
type Category string

const (
	CategoryPolitics      Category = "Politics"
	CategoryCrypto        Category = "Crypto"
	CategorySports        Category = "Sports"
	CategoryFinance       Category = "Finance"
	CategoryEntertainment Category = "Entertainment"
	CategoryScience       Category = "Science"
	CategoryWorld         Category = "World"
	CategoryOther         Category = "Other"
)

// Market is venue market metadata, versioned by UpdatedAt.
type Market struct {
	ID            string
	Venue         Venue
	Question      string
	Slug          string
	Category      Category
	OutcomePrices map[string]float64 // outcome -> probability
	Volume        float64
	EndTime       time.Time
	Active        bool
	URL           string
	UpdatedAt     time.Time
}

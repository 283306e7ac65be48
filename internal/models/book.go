package models

import "time"

// BookStatus reflects catalog availability. A book is available iff at least
// one copy is on the shelf.
type BookStatus string

const (
	BookAvailable   BookStatus = "available"
	BookUnavailable BookStatus = "unavailable"
)

// Book represents a catalog record in the books table.
type Book struct {
	ID              string     `db:"id" json:"id"`
	ISBN            string     `db:"isbn" json:"isbn"`
	Title           string     `db:"title" json:"title"`
	Author          string     `db:"author" json:"author"`
	Category        string     `db:"category" json:"category"`
	Publisher       string     `db:"publisher" json:"publisher"`
	PublishedYear   int        `db:"published_year" json:"published_year"`
	ShelfLocation   string     `db:"shelf_location" json:"shelf_location"`
	CopiesTotal     int        `db:"copies_total" json:"copies_total"`
	CopiesAvailable int        `db:"copies_available" json:"copies_available"`
	Status          BookStatus `db:"status" json:"status"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// BookFilter captures filtering criteria for catalog listings.
type BookFilter struct {
	Category  string
	Status    *BookStatus
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

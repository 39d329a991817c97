package models

import (
	"encoding/json"
	"fmt"
)

// Board represents a board. Boards are seeded by an operator and never change afterwards.
type Board struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

// NewBoard builds a board, deriving the slug from the name when slug is empty
func NewBoard(name, slug, description string) Board {
	if slug == "" {
		slug = Slugify(name)
	}
	return Board{
		Name:        name,
		Slug:        slug,
		Description: description,
	}
}

// Ident returns the storage key of the board
func (b Board) Ident() string {
	return BoardKey(b.Slug)
}

// DecodeBoard parses a persisted board
func DecodeBoard(data []byte) (Board, error) {
	var b Board
	if err := json.Unmarshal(data, &b); err != nil {
		return Board{}, fmt.Errorf("%w: board: %v", ErrEncoding, err)
	}
	return b, nil
}

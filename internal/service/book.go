package service

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/liliang-cn/bookmind/pkg/chunker"
)

// Book is the unit a reading session operates on.
type Book struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Chapters []chunker.Chapter `json:"chapters"`
}

// LoadBook reads a book from a JSON file.
func LoadBook(path string) (*Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load book: %w", err)
	}
	var book Book
	if err := json.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("load book: %w", err)
	}
	if book.ID == "" {
		return nil, fmt.Errorf("load book: missing book id")
	}
	if len(book.Chapters) == 0 {
		return nil, fmt.Errorf("load book: no chapters")
	}
	return &book, nil
}

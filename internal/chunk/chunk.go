package chunk

import (
	"errors"
	"fmt"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 100
)

var (
	ErrInvalidSize    = errors.New("chunk size must be positive")
	ErrInvalidOverlap = errors.New("chunk overlap must be non-negative and smaller than chunk size")
)

// Window is one slice of the input text. Offset counts characters (runes)
// from the start of the text.
type Window struct {
	Offset int
	Text   string
}

// Validate reports whether size and overlap describe a usable window layout.
func Validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: overlap=%d size=%d", ErrInvalidOverlap, overlap, size)
	}
	return nil
}

// Split cuts text into windows of size characters whose starts are
// size-overlap characters apart. Only the last window may be shorter.
func Split(text string, size, overlap int) ([]Window, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	if text == "" {
		return []Window{}, nil
	}

	runes := []rune(text)
	step := size - overlap
	out := make([]Window, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, Window{Offset: start, Text: string(runes[start:end])})
		if end == len(runes) {
			break
		}
	}
	return out, nil
}

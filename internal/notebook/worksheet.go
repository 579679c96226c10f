package notebook

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidID is returned for empty worksheet or cell identifiers
	ErrInvalidID = errors.New("identifier cannot be empty")
	// ErrDuplicateCell is returned when a cell id is already used in a worksheet
	ErrDuplicateCell = errors.New("cell already exists")
	// ErrUnknownCell is returned when a cell id is not in a worksheet
	ErrUnknownCell = errors.New("unknown cell")
)

// Worksheet is an ordered collection of cells. Order matters for display
// only; cells may be evaluated in any order.
type Worksheet struct {
	id string

	mu    sync.RWMutex
	cells []*Cell
	index map[string]*Cell
}

// NewWorksheet creates an empty worksheet
func NewWorksheet(id string) *Worksheet {
	return &Worksheet{
		id:    id,
		index: make(map[string]*Cell),
	}
}

// ID returns the worksheet identifier
func (w *Worksheet) ID() string {
	return w.id
}

// AddCell appends a new cell
func (w *Worksheet) AddCell(id, source string) (*Cell, error) {
	return w.InsertCell(-1, id, source)
}

// InsertCell inserts a new cell at index; a negative or out-of-range index appends
func (w *Worksheet) InsertCell(index int, id, source string) (*Cell, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.index[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCell, id)
	}

	cell := NewCell(id, source)
	if index < 0 || index >= len(w.cells) {
		w.cells = append(w.cells, cell)
	} else {
		w.cells = append(w.cells, nil)
		copy(w.cells[index+1:], w.cells[index:])
		w.cells[index] = cell
	}
	w.index[id] = cell
	return cell, nil
}

// RemoveCell removes a cell from the worksheet
func (w *Worksheet) RemoveCell(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.index[id]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownCell, id)
	}
	delete(w.index, id)
	for i, cell := range w.cells {
		if cell.id == id {
			w.cells = append(w.cells[:i], w.cells[i+1:]...)
			break
		}
	}
	return nil
}

// Cell looks up a cell by id
func (w *Worksheet) Cell(id string) (*Cell, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	cell, ok := w.index[id]
	return cell, ok
}

// Contains reports whether this exact cell record belongs to the worksheet
func (w *Worksheet) Contains(cell *Cell) bool {
	if cell == nil {
		return false
	}
	existing, ok := w.Cell(cell.id)
	return ok && existing == cell
}

// Cells returns the cells in display order
func (w *Worksheet) Cells() []*Cell {
	w.mu.RLock()
	defer w.mu.RUnlock()
	cells := make([]*Cell, len(w.cells))
	copy(cells, w.cells)
	return cells
}

// Len returns the number of cells
func (w *Worksheet) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.cells)
}

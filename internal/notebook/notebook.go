package notebook

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicateWorksheet is returned when a worksheet id is already used
	ErrDuplicateWorksheet = errors.New("worksheet already exists")
	// ErrUnknownWorksheet is returned when a worksheet id is not in the notebook
	ErrUnknownWorksheet = errors.New("unknown worksheet")
)

// Notebook owns the worksheets of one open document
type Notebook struct {
	id string

	mu         sync.RWMutex
	worksheets map[string]*Worksheet
	order      []string
}

// New creates an empty notebook
func New(id string) *Notebook {
	return &Notebook{
		id:         id,
		worksheets: make(map[string]*Worksheet),
	}
}

// ID returns the notebook identifier
func (n *Notebook) ID() string {
	return n.id
}

// AddWorksheet creates and registers an empty worksheet
func (n *Notebook) AddWorksheet(id string) (*Worksheet, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.worksheets[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateWorksheet, id)
	}
	ws := NewWorksheet(id)
	n.worksheets[id] = ws
	n.order = append(n.order, id)
	return ws, nil
}

// Worksheet looks up a worksheet by id
func (n *Notebook) Worksheet(id string) (*Worksheet, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ws, ok := n.worksheets[id]
	return ws, ok
}

// RemoveWorksheet unregisters a worksheet
func (n *Notebook) RemoveWorksheet(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.worksheets[id]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownWorksheet, id)
	}
	delete(n.worksheets, id)
	for i, wsID := range n.order {
		if wsID == id {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
	return nil
}

// Worksheets returns the worksheets in creation order
func (n *Notebook) Worksheets() []*Worksheet {
	n.mu.RLock()
	defer n.mu.RUnlock()
	result := make([]*Worksheet, 0, len(n.order))
	for _, id := range n.order {
		result = append(result, n.worksheets[id])
	}
	return result
}

// Lookup resolves a (worksheet, cell) pair
func (n *Notebook) Lookup(worksheetID, cellID string) (*Cell, error) {
	ws, ok := n.Worksheet(worksheetID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorksheet, worksheetID)
	}
	cell, ok := ws.Cell(cellID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCell, cellID)
	}
	return cell, nil
}

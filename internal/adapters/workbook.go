package adapters

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rendis/rigflow/pkg/schema"
)

var a1Pattern = regexp.MustCompile(`^\$?([A-Za-z]{1,3})\$?([1-9][0-9]{0,6})$`)

// ParseA1 normalises an A1 address ("$b$3" → "B3") and returns its 1-based
// column and row.
func ParseA1(address string) (normalized string, col, row int, err error) {
	m := a1Pattern.FindStringSubmatch(strings.TrimSpace(address))
	if m == nil {
		return "", 0, 0, schema.NewErrorf(schema.ErrCodeValidation, "%q is not an A1 cell address", address)
	}
	letters := strings.ToUpper(m[1])
	for _, r := range letters {
		col = col*26 + int(r-'A'+1)
	}
	row, _ = strconv.Atoi(m[2])
	return letters + m[2], col, row, nil
}

// Workbook is an in-memory set of sheets. Sheets are created on first write.
type Workbook struct {
	mu     sync.RWMutex
	sheets map[string]map[string]any
}

// NewWorkbook creates a workbook with the given empty sheets.
func NewWorkbook(sheets ...string) *Workbook {
	w := &Workbook{sheets: make(map[string]map[string]any)}
	for _, s := range sheets {
		w.sheets[s] = make(map[string]any)
	}
	return w
}

// ReadCell returns the cell value. Unknown sheets are NOT_FOUND; empty cells
// read as "".
func (w *Workbook) ReadCell(ctx context.Context, sheet, address string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr, _, _, err := ParseA1(address)
	if err != nil {
		return nil, err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	cells, ok := w.sheets[sheet]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "sheet %q not found", sheet)
	}
	v, ok := cells[addr]
	if !ok {
		return "", nil
	}
	return v, nil
}

// WriteCell stores value at sheet!address.
func (w *Workbook) WriteCell(ctx context.Context, sheet, address string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sheet == "" {
		return schema.NewError(schema.ErrCodeValidation, "sheet name is empty")
	}
	addr, _, _, err := ParseA1(address)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	cells, ok := w.sheets[sheet]
	if !ok {
		cells = make(map[string]any)
		w.sheets[sheet] = cells
	}
	cells[addr] = value
	return nil
}

// Sheets returns the sheet names, sorted.
func (w *Workbook) Sheets() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, 0, len(w.sheets))
	for name := range w.sheets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cells returns a copy of one sheet's non-empty cells.
func (w *Workbook) Cells(sheet string) map[string]any {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]any, len(w.sheets[sheet]))
	for k, v := range w.sheets[sheet] {
		out[k] = v
	}
	return out
}

package bpm

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jashan-lco/banzai/internal/db"
)

// ErrNoMask is returned when no bad pixel mask is registered for an
// instrument and binning.
var ErrNoMask = errors.New("no bad pixel mask registered")

// Mask is a bad pixel mask: nonzero entries mark pixels to discard.
type Mask struct {
	NX   int       `json:"nx"`
	NY   int       `json:"ny"`
	Data [][]uint8 `json:"data"` // NY rows of NX flags
}

// Loader resolves and loads bad pixel masks from the catalog.
type Loader struct {
	store *db.Store
}

// NewLoader wraps the catalog store.
func NewLoader(store *db.Store) *Loader {
	return &Loader{store: store}
}

// MaskPath returns the mask file path for an instrument and binning.
func (l *Loader) MaskPath(telescopeID int64, ccdsum string) (string, error) {
	rec, err := l.store.GetBPM(telescopeID, ccdsum)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", fmt.Errorf("instrument %d binning %q: %w", telescopeID, ccdsum, ErrNoMask)
	}
	return filepath.Join(rec.Filepath, rec.Filename), nil
}

// Load reads a mask file.
func Load(path string) (Mask, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Mask{}, err
	}
	var mask Mask
	if err := json.Unmarshal(raw, &mask); err != nil {
		return Mask{}, fmt.Errorf("parse mask %s: %w", path, err)
	}
	if len(mask.Data) != mask.NY {
		return Mask{}, fmt.Errorf("mask %s: %d rows, header says %d", path, len(mask.Data), mask.NY)
	}
	for i, row := range mask.Data {
		if len(row) != mask.NX {
			return Mask{}, fmt.Errorf("mask %s: row %d has %d columns, header says %d", path, i, len(row), mask.NX)
		}
	}
	return mask, nil
}

// Apply zeroes every flagged pixel in data. Shapes must match.
func Apply(data [][]float64, mask Mask) error {
	if len(data) != mask.NY {
		return fmt.Errorf("shape mismatch: image has %d rows, mask %d", len(data), mask.NY)
	}
	for y, row := range data {
		if len(row) != mask.NX {
			return fmt.Errorf("shape mismatch: image row %d has %d columns, mask %d", y, len(row), mask.NX)
		}
		for x := range row {
			if mask.Data[y][x] != 0 {
				row[x] = 0
			}
		}
	}
	return nil
}

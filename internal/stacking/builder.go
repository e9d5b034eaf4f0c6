package stacking

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jashan-lco/banzai/internal/dateutil"
	"github.com/jashan-lco/banzai/internal/db"
)

// MasterCatalog is the store surface the builder writes through.
type MasterCatalog interface {
	SaveOrUpdateMaster(rec db.CalibrationImage) error
}

// CatalogMasterBuilder derives the master frame record for a stack and
// upserts it into the catalog. The pixel combination itself is delegated to
// the reduction backend via Combine; the default combiner only produces the
// record, which is all the scheduler core needs.
type CatalogMasterBuilder struct {
	catalog   MasterCatalog
	outputDir string

	// Combine, when set, performs the actual pixel-level stack and may
	// override the output path it returns.
	Combine func(ctx context.Context, images []db.CalibrationImage, outputPath string) error
}

// NewCatalogMasterBuilder builds masters into outputDir.
func NewCatalogMasterBuilder(catalog MasterCatalog, outputDir string) *CatalogMasterBuilder {
	return &CatalogMasterBuilder{catalog: catalog, outputDir: outputDir}
}

// MakeMaster records one master calibration frame for the given stack. The
// record key (instrument, type, dayobs, ccdsum, filter) comes from the
// input frames, so recomputation lands on the same catalog row.
func (b *CatalogMasterBuilder) MakeMaster(ctx context.Context, instrument db.Telescope, frameType string, minDate, maxDate time.Time, images []db.CalibrationImage) error {
	if len(images) == 0 {
		return fmt.Errorf("no input frames for %s master", frameType)
	}

	// Configuration signature is taken from the first frame; the catalog
	// query already grouped inputs by instrument and type.
	ccdsum := images[0].CCDSum
	filterName := images[0].FilterName
	dayobs := dateutil.DayObs(minDate)

	filename := masterFilename(instrument, frameType, dayobs, ccdsum, filterName)
	outputPath := filepath.Join(b.outputDir, instrument.Site, instrument.Instrument, dayobs)

	if b.Combine != nil {
		if err := b.Combine(ctx, images, filepath.Join(outputPath, filename)); err != nil {
			return fmt.Errorf("combine %d %s frames: %w", len(images), frameType, err)
		}
	}

	return b.catalog.SaveOrUpdateMaster(db.CalibrationImage{
		Type:        frameType,
		Filename:    filename,
		Filepath:    outputPath,
		DayObs:      dayobs,
		DateObs:     dateutil.Format(minDate),
		CCDSum:      ccdsum,
		FilterName:  filterName,
		TelescopeID: instrument.ID,
		IsMaster:    true,
	})
}

func masterFilename(instrument db.Telescope, frameType, dayobs, ccdsum, filterName string) string {
	parts := []string{
		strings.ToLower(frameType),
		instrument.Site,
		instrument.Instrument,
		dayobs,
	}
	if ccdsum != "" {
		parts = append(parts, "bin"+strings.ReplaceAll(ccdsum, " ", "x"))
	}
	if filterName != "" {
		parts = append(parts, filterName)
	}
	return strings.Join(parts, "-") + ".fits"
}

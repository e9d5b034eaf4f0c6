package observations

import (
	"time"

	"github.com/jashan-lco/banzai/internal/dateutil"
)

// Block is one scheduled or executed observation unit as returned by the
// observation portal. Blocks are transient: fetched fresh per scheduling
// cycle and never persisted.
type Block struct {
	Site      string  `json:"site"`
	Enclosure string  `json:"enclosure"`
	Telescope string  `json:"telescope"`
	Start     string  `json:"start"`
	End       string  `json:"end"`
	State     string  `json:"state"`
	Proposal  string  `json:"proposal"`
	Name      string  `json:"name"`
	Request   Request `json:"request"`
}

// Request carries the configuration entries of a block.
type Request struct {
	Configurations []Configuration `json:"configurations"`
}

// Configuration describes one exposure sequence within a block.
type Configuration struct {
	Type              string             `json:"type"`
	InstrumentType    string             `json:"instrument_type"`
	Priority          int                `json:"priority"`
	InstrumentConfigs []InstrumentConfig `json:"instrument_configs"`
}

// InstrumentConfig holds exposure parameters for a configuration.
type InstrumentConfig struct {
	ExposureTime  float64 `json:"exposure_time"`
	ExposureCount int     `json:"exposure_count"`
	BinX          int     `json:"bin_x"`
	BinY          int     `json:"bin_y"`
	Mode          string  `json:"mode"`
}

// EndTime parses the block end timestamp. Blocks with malformed end times
// report an error and are excluded from countdown computation.
func (b Block) EndTime() (time.Time, error) {
	return dateutil.Parse(b.End)
}

// FilterForType returns the blocks containing at least one configuration of
// the given frame type, preserving input order. Blocks with missing or empty
// configuration lists are treated as non-matching.
func FilterForType(blocks []Block, frameType string) []Block {
	var matched []Block
	for _, block := range blocks {
		for _, conf := range block.Request.Configurations {
			if conf.Type == frameType {
				matched = append(matched, block)
				break
			}
		}
	}
	return matched
}

// LatestEnd returns the maximum end time among blocks. Blocks whose end
// timestamps do not parse are skipped. ok is false when no block yields a
// usable end time.
func LatestEnd(blocks []Block) (latest time.Time, ok bool) {
	for _, block := range blocks {
		end, err := block.EndTime()
		if err != nil {
			continue
		}
		if !ok || end.After(latest) {
			latest = end
			ok = true
		}
	}
	return latest, ok
}

package frames

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jashan-lco/banzai/internal/db"
)

// Header is the keyword/value map of one exposure. The FITS read mechanics
// live outside this core; headers arrive as JSON sidecars written next to
// the raw frame.
type Header map[string]any

// Frame is one raw exposure described by its header keywords.
type Frame struct {
	Filename   string
	Filepath   string
	Site       string
	Instrument string
	DayObs     string
	DateObs    string
	ObsType    string
	CCDSum     string
	Filter     string
	ObjectName string
	ExpTime    float64
	RA         float64
	Dec        float64
	Header     Header
}

// SidecarExt is the extension of header sidecar files.
const SidecarExt = ".json"

// ParseHeader builds a Frame from a header map. Missing keywords leave zero
// values; the header checker reports them, parsing never fails on absence.
func ParseHeader(filename string, header Header) Frame {
	return Frame{
		Filename:   filename,
		Site:       headerString(header, "SITEID"),
		Instrument: headerString(header, "INSTRUME"),
		DayObs:     headerString(header, "DAY-OBS"),
		DateObs:    headerString(header, "DATE-OBS"),
		ObsType:    headerString(header, "OBSTYPE"),
		CCDSum:     headerString(header, "CCDSUM"),
		Filter:     headerString(header, "FILTER"),
		ObjectName: headerString(header, "OBJECT"),
		ExpTime:    headerFloat(header, "EXPTIME"),
		RA:         headerFloat(header, "RA"),
		Dec:        headerFloat(header, "DEC"),
		Header:     header,
	}
}

// Load reads a header sidecar and builds the frame for its data file.
func Load(sidecarPath string) (Frame, error) {
	raw, err := os.ReadFile(sidecarPath)
	if err != nil {
		return Frame{}, err
	}
	var header Header
	if err := json.Unmarshal(raw, &header); err != nil {
		return Frame{}, fmt.Errorf("parse header sidecar %s: %w", sidecarPath, err)
	}

	dataFile := strings.TrimSuffix(filepath.Base(sidecarPath), SidecarExt)
	frame := ParseHeader(dataFile, header)
	frame.Filepath = filepath.Dir(sidecarPath)
	return frame, nil
}

// ImageRecord converts the frame into its catalog row.
func (f Frame) ImageRecord(telescopeID int64) db.ImageRecord {
	return db.ImageRecord{
		Filename:    f.Filename,
		TelescopeID: telescopeID,
		Filepath:    f.Filepath,
		ObjectName:  f.ObjectName,
		DateObs:     f.DateObs,
		DayObs:      f.DayObs,
		ExpTime:     f.ExpTime,
		FilterName:  f.Filter,
		ObsType:     f.ObsType,
		CCDSum:      f.CCDSum,
		IngestDone:  true,
	}
}

// CalibrationRecord converts the frame into a raw calimage row. Only
// meaningful when ObsType is a calibration type.
func (f Frame) CalibrationRecord(telescopeID int64) db.CalibrationImage {
	return db.CalibrationImage{
		Type:        f.ObsType,
		Filename:    f.Filename,
		Filepath:    f.Filepath,
		DayObs:      f.DayObs,
		DateObs:     f.DateObs,
		CCDSum:      f.CCDSum,
		FilterName:  f.Filter,
		TelescopeID: telescopeID,
	}
}

func headerString(h Header, key string) string {
	v, ok := h[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func headerFloat(h Header, key string) float64 {
	v, ok := h[key]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

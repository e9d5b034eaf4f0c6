package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jashan-lco/banzai/internal/dateutil"
)

// ErrUnknownInstrument is returned when an instrument id or (site, camera)
// pair cannot be resolved. Stacking tasks treat it as fatal.
var ErrUnknownInstrument = errors.New("unknown instrument")

// Store wraps SQLite-backed persistence for the calibration catalog.
type Store struct {
	DB *sql.DB
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS telescopes (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            site TEXT NOT NULL,
            instrument TEXT NOT NULL,
            camera_type TEXT,
            UNIQUE(site, instrument)
        );`,
		`CREATE TABLE IF NOT EXISTS images (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            filename TEXT NOT NULL UNIQUE,
            telescope_id INTEGER REFERENCES telescopes(id),
            filepath TEXT,
            object_name TEXT,
            dateobs TEXT,
            dayobs TEXT,
            exptime REAL,
            filter_name TEXT,
            obstype TEXT,
            ccdsum TEXT,
            ingest_done BOOLEAN DEFAULT FALSE,
            bias_done BOOLEAN DEFAULT FALSE,
            dark_done BOOLEAN DEFAULT FALSE,
            flat_done BOOLEAN DEFAULT FALSE
        );`,
		`CREATE TABLE IF NOT EXISTS calimages (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            type TEXT NOT NULL,
            filename TEXT NOT NULL UNIQUE,
            filepath TEXT,
            dayobs TEXT,
            dateobs TEXT,
            ccdsum TEXT,
            filter_name TEXT,
            telescope_id INTEGER REFERENCES telescopes(id),
            is_master BOOLEAN DEFAULT FALSE
        );`,
		`CREATE TABLE IF NOT EXISTS bpms (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            telescope_id INTEGER REFERENCES telescopes(id),
            filename TEXT NOT NULL,
            filepath TEXT,
            ccdsum TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS stacking_tasks (
            id TEXT PRIMARY KEY,
            site TEXT,
            telescope_id INTEGER,
            frame_type TEXT,
            min_date TEXT,
            max_date TEXT,
            status TEXT NOT NULL,
            attempts INTEGER DEFAULT 0,
            error_message TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_calimages_lookup ON calimages(telescope_id, type, dayobs);`,
		`CREATE INDEX IF NOT EXISTS idx_images_telescope ON images(telescope_id);`,
		`CREATE INDEX IF NOT EXISTS idx_images_dayobs ON images(dayobs);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_calimages_master_key
            ON calimages(telescope_id, type, dayobs, ccdsum, filter_name) WHERE is_master;`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Telescope identifies one instrument at a site.
type Telescope struct {
	ID         int64
	Site       string
	Instrument string
	CameraType string
}

// ImageRecord captures one raw exposure parsed from its header.
type ImageRecord struct {
	ID          int64
	Filename    string
	TelescopeID int64
	Filepath    string
	ObjectName  string
	DateObs     string
	DayObs      string
	ExpTime     float64
	FilterName  string
	ObsType     string
	CCDSum      string
	IngestDone  bool
}

// CalibrationImage is a raw or master calibration frame record.
type CalibrationImage struct {
	ID          int64
	Type        string
	Filename    string
	Filepath    string
	DayObs      string
	DateObs     string
	CCDSum      string
	FilterName  string
	TelescopeID int64
	IsMaster    bool
}

// BadPixelMask records a mask file for one instrument and binning.
type BadPixelMask struct {
	ID          int64
	TelescopeID int64
	Filename    string
	Filepath    string
	CCDSum      string
}

// Camera is one instrument descriptor from the configuration source.
type Camera struct {
	Site       string
	Instrument string
	CameraType string
}

// GetInstrumentsAtSite returns the active instruments for a site.
func (s *Store) GetInstrumentsAtSite(site string) ([]Telescope, error) {
	rows, err := s.DB.Query(`SELECT id, site, instrument, camera_type FROM telescopes WHERE site=? ORDER BY id;`, site)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var telescopes []Telescope
	for rows.Next() {
		var t Telescope
		var cameraType sql.NullString
		if err := rows.Scan(&t.ID, &t.Site, &t.Instrument, &cameraType); err != nil {
			return nil, err
		}
		t.CameraType = cameraType.String
		telescopes = append(telescopes, t)
	}
	return telescopes, rows.Err()
}

// GetInstrumentByID resolves an instrument id. Returns ErrUnknownInstrument
// if no row exists.
func (s *Store) GetInstrumentByID(id int64) (Telescope, error) {
	var t Telescope
	var cameraType sql.NullString
	err := s.DB.QueryRow(`SELECT id, site, instrument, camera_type FROM telescopes WHERE id=?;`, id).
		Scan(&t.ID, &t.Site, &t.Instrument, &cameraType)
	if errors.Is(err, sql.ErrNoRows) {
		return Telescope{}, fmt.Errorf("instrument id %d: %w", id, ErrUnknownInstrument)
	}
	if err != nil {
		return Telescope{}, err
	}
	t.CameraType = cameraType.String
	return t, nil
}

// GetTelescopeID resolves (site, instrument code) to a stable id.
func (s *Store) GetTelescopeID(site, instrument string) (int64, error) {
	var id int64
	err := s.DB.QueryRow(`SELECT id FROM telescopes WHERE site=? AND instrument=?;`, site, instrument).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s/%s: %w", site, instrument, ErrUnknownInstrument)
	}
	return id, err
}

// SyncInstruments inserts cameras that are not yet in the telescopes table.
// Existing rows are left untouched so ids stay stable.
func (s *Store) SyncInstruments(cameras []Camera) (int, error) {
	added := 0
	for _, cam := range cameras {
		res, err := s.DB.Exec(
			`INSERT OR IGNORE INTO telescopes (site, instrument, camera_type) VALUES (?, ?, ?);`,
			cam.Site, cam.Instrument, cam.CameraType)
		if err != nil {
			return added, err
		}
		n, _ := res.RowsAffected()
		added += int(n)
	}
	return added, nil
}

// SaveImage records one raw exposure, replacing by filename.
func (s *Store) SaveImage(rec ImageRecord) error {
	_, err := s.DB.Exec(
		`INSERT OR REPLACE INTO images
            (filename, telescope_id, filepath, object_name, dateobs, dayobs, exptime, filter_name, obstype, ccdsum, ingest_done)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.Filename, rec.TelescopeID, rec.Filepath, rec.ObjectName, rec.DateObs, rec.DayObs,
		rec.ExpTime, rec.FilterName, rec.ObsType, rec.CCDSum, rec.IngestDone)
	return err
}

// SaveCalibrationImage records one raw calibration frame, replacing by filename.
func (s *Store) SaveCalibrationImage(rec CalibrationImage) error {
	_, err := s.DB.Exec(
		`INSERT OR REPLACE INTO calimages
            (type, filename, filepath, dayobs, dateobs, ccdsum, filter_name, telescope_id, is_master)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, FALSE);`,
		rec.Type, rec.Filename, rec.Filepath, rec.DayObs, rec.DateObs, rec.CCDSum,
		rec.FilterName, rec.TelescopeID)
	return err
}

// IndividualCalibrationImages returns the raw (non-master) calibration frames
// of the given type for an instrument within [minDate, maxDate).
func (s *Store) IndividualCalibrationImages(telescopeID int64, frameType string, minDate, maxDate time.Time) ([]CalibrationImage, error) {
	rows, err := s.DB.Query(
		`SELECT id, type, filename, filepath, dayobs, dateobs, ccdsum, filter_name, telescope_id, is_master
            FROM calimages
            WHERE telescope_id=? AND type=? AND NOT is_master AND dateobs >= ? AND dateobs < ?;`,
		telescopeID, frameType, dateutil.Format(minDate), dateutil.Format(maxDate))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCalibrationImages(rows)
}

// SaveOrUpdateMaster upserts a master calibration record keyed by
// (telescope_id, type, dayobs, ccdsum, filter_name). Recomputation updates
// the existing row rather than duplicating it. The partial unique index on
// that key makes concurrent completions safe: last writer wins.
func (s *Store) SaveOrUpdateMaster(rec CalibrationImage) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE calimages SET filename=?, filepath=?, dateobs=?
            WHERE telescope_id=? AND type=? AND dayobs=? AND ccdsum=? AND filter_name=? AND is_master;`,
		rec.Filename, rec.Filepath, rec.DateObs,
		rec.TelescopeID, rec.Type, rec.DayObs, rec.CCDSum, rec.FilterName)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = tx.Exec(
			`INSERT OR REPLACE INTO calimages
                (type, filename, filepath, dayobs, dateobs, ccdsum, filter_name, telescope_id, is_master)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, TRUE);`,
			rec.Type, rec.Filename, rec.Filepath, rec.DayObs, rec.DateObs, rec.CCDSum,
			rec.FilterName, rec.TelescopeID)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CalibrationImages returns calibration frame records with optional filters.
// A zero telescopeID or empty frameType matches everything; a nil isMaster
// returns raw and master records alike.
func (s *Store) CalibrationImages(telescopeID int64, frameType string, isMaster *bool) ([]CalibrationImage, error) {
	query := `SELECT id, type, filename, filepath, dayobs, dateobs, ccdsum, filter_name, telescope_id, is_master
        FROM calimages WHERE 1=1`
	var args []any
	if telescopeID != 0 {
		query += ` AND telescope_id=?`
		args = append(args, telescopeID)
	}
	if frameType != "" {
		query += ` AND type=?`
		args = append(args, frameType)
	}
	if isMaster != nil {
		query += ` AND is_master=?`
		args = append(args, *isMaster)
	}
	query += ` ORDER BY dayobs DESC;`

	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCalibrationImages(rows)
}

// MasterCalibrationImages returns master frames, optionally filtered.
func (s *Store) MasterCalibrationImages(telescopeID int64, frameType string) ([]CalibrationImage, error) {
	master := true
	return s.CalibrationImages(telescopeID, frameType, &master)
}

func scanCalibrationImages(rows *sql.Rows) ([]CalibrationImage, error) {
	var recs []CalibrationImage
	for rows.Next() {
		var rec CalibrationImage
		var filepath, dayobs, dateobs, ccdsum, filterName sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Filename, &filepath, &dayobs, &dateobs,
			&ccdsum, &filterName, &rec.TelescopeID, &rec.IsMaster); err != nil {
			return nil, err
		}
		rec.Filepath = filepath.String
		rec.DayObs = dayobs.String
		rec.DateObs = dateobs.String
		rec.CCDSum = ccdsum.String
		rec.FilterName = filterName.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SaveBPM records a bad pixel mask file for an instrument.
func (s *Store) SaveBPM(rec BadPixelMask) error {
	_, err := s.DB.Exec(
		`INSERT INTO bpms (telescope_id, filename, filepath, ccdsum) VALUES (?, ?, ?, ?);`,
		rec.TelescopeID, rec.Filename, rec.Filepath, rec.CCDSum)
	return err
}

// GetBPM returns the mask record for an instrument and binning, or nil if
// none is registered.
func (s *Store) GetBPM(telescopeID int64, ccdsum string) (*BadPixelMask, error) {
	var rec BadPixelMask
	var filepath, sum sql.NullString
	err := s.DB.QueryRow(
		`SELECT id, telescope_id, filename, filepath, ccdsum FROM bpms
            WHERE telescope_id=? AND (ccdsum=? OR ?='') LIMIT 1;`,
		telescopeID, ccdsum, ccdsum).
		Scan(&rec.ID, &rec.TelescopeID, &rec.Filename, &filepath, &sum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Filepath = filepath.String
	rec.CCDSum = sum.String
	return &rec, nil
}

package configdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jashan-lco/banzai/internal/db"
)

// Client fetches instrument descriptors from the site configuration source.
type Client struct {
	address string
	http    *http.Client
}

// NewClient builds a configdb client.
func NewClient(address string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		address: address,
		http:    &http.Client{Timeout: timeout},
	}
}

// The configdb payload nests instruments under sites, enclosures, and
// telescopes. Only the fields we flatten are decoded.
type sitesResponse struct {
	Results []siteEntry `json:"results"`
}

type siteEntry struct {
	Code         string           `json:"code"`
	EnclosureSet []enclosureEntry `json:"enclosure_set"`
}

type enclosureEntry struct {
	TelescopeSet []telescopeEntry `json:"telescope_set"`
}

type telescopeEntry struct {
	InstrumentSet []instrumentEntry `json:"instrument_set"`
}

type instrumentEntry struct {
	ScienceCamera *scienceCamera `json:"science_camera"`
}

type scienceCamera struct {
	Code       string     `json:"code"`
	CameraType cameraType `json:"camera_type"`
}

type cameraType struct {
	Code string `json:"code"`
}

// GetCameras flattens the configdb tree into science camera descriptors.
// Instruments without a science camera, or whose camera type is not a
// science camera, are skipped.
func (c *Client) GetCameras(ctx context.Context) ([]db.Camera, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.address, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch configdb: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("configdb returned %s", resp.Status)
	}

	var payload sitesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode configdb response: %w", err)
	}

	var cameras []db.Camera
	for _, site := range payload.Results {
		for _, enc := range site.EnclosureSet {
			for _, tel := range enc.TelescopeSet {
				for _, ins := range tel.InstrumentSet {
					cam := ins.ScienceCamera
					if cam == nil || !strings.Contains(cam.CameraType.Code, "SciCam") {
						continue
					}
					cameras = append(cameras, db.Camera{
						Site:       site.Code,
						Instrument: cam.Code,
						CameraType: cam.CameraType.Code,
					})
				}
			}
		}
	}
	return cameras, nil
}

// SyncTelescopeTable fetches the current camera list and inserts any new
// (site, instrument) pairs into the telescopes table. Existing rows keep
// their ids.
func SyncTelescopeTable(ctx context.Context, client *Client, store *db.Store) (int, error) {
	cameras, err := client.GetCameras(ctx)
	if err != nil {
		return 0, err
	}
	return store.SyncInstruments(cameras)
}

// Package collab talks to the collaborators outside the canvas: zone
// persistence and the analysis service.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/woozymasta/farmcanvas/internal/feature"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
)

// ZonesFile is the file name of a farm's zones inside its directory.
const ZonesFile = "zones.geojson"

// ZoneStore loads and saves the zones of a farm.
type ZoneStore interface {
	LoadZones(ctx context.Context, farmID string) ([]feature.Feature, error)
	SaveZones(ctx context.Context, farmID string, features []feature.Feature) error
}

// ErrBadFarmID is returned for farm IDs that cannot be used as a path segment.
var ErrBadFarmID = errors.New("invalid farm id")

func checkFarmID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrBadFarmID, id)
	}
	return nil
}

// FileStore keeps zones as GeoJSON under <Dir>/<farm>/zones.geojson.
type FileStore struct {
	Dir string
}

// Path returns the zones file of a farm.
func (s FileStore) Path(farmID string) string {
	return filepath.Join(s.Dir, farmID, ZonesFile)
}

// LoadZones reads the zones of a farm. A farm without a file has no zones.
func (s FileStore) LoadZones(_ context.Context, farmID string) ([]feature.Feature, error) {
	if err := checkFarmID(farmID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path(farmID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.Path(farmID), err)
	}
	return feature.FromGeoJSON(fc)
}

// SaveZones replaces the zones file. The file is written next to the target
// and renamed so readers never see a partial file.
func (s FileStore) SaveZones(_ context.Context, farmID string, features []feature.Feature) error {
	if err := checkFarmID(farmID); err != nil {
		return err
	}

	path := s.Path(farmID)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ZonesFile+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Debug().Err(err).Str("path", tmp.Name()).Msg("Failed to remove temp file")
		}
	}()

	if err := json.NewEncoder(tmp).Encode(feature.ToGeoJSON(features)); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}

	log.Debug().Str("farm", farmID).Int("features", len(features)).Str("path", path).Msg("Zones saved")
	return nil
}

// HTTPStore is the persistence API: GET and PUT <BaseURL>/farms/<id>/zones
// with a GeoJSON feature collection body.
type HTTPStore struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPStore returns a store with a bounded client timeout.
func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPStore) zonesURL(farmID string) string {
	return s.BaseURL + "/farms/" + url.PathEscape(farmID) + "/zones"
}

func (s *HTTPStore) client() *http.Client {
	if s.Client == nil {
		return http.DefaultClient
	}
	return s.Client
}

// LoadZones fetches the zones of a farm. 404 means no zones yet.
func (s *HTTPStore) LoadZones(ctx context.Context, farmID string) ([]feature.Feature, error) {
	if err := checkFarmID(farmID); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.zonesURL(farmID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/geo+json")

	resp, err := s.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("decode zones: %w", err)
	}
	return feature.FromGeoJSON(fc)
}

// SaveZones uploads the full feature set of a farm.
func (s *HTTPStore) SaveZones(ctx context.Context, farmID string, features []feature.Feature) error {
	if err := checkFarmID(farmID); err != nil {
		return err
	}

	body, err := json.Marshal(feature.ToGeoJSON(features))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.zonesURL(farmID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/geo+json")

	resp, err := s.client().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	return nil
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if len(msg) == 0 {
		return fmt.Errorf("status code %d", resp.StatusCode)
	}
	return fmt.Errorf("status code %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}

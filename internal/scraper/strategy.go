// internal/scraper/strategy.go

// Package scraper holds the fetch strategies that turn a VIN into a parts
// listing and the Engine that chooses between them.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/valpere/vinparts/internal/config"
	"github.com/valpere/vinparts/internal/extract"
	"github.com/valpere/vinparts/internal/utils"
	"github.com/valpere/vinparts/pkg/types"
)

// Strategy fetches the parts listing for a VIN one way. Implementations
// never return errors; a failure is a result with Success false.
type Strategy interface {
	Name() string
	SearchByVin(ctx context.Context, vin string) *types.SearchResult
}

// Target is the layout of the parts catalog.
type Target struct {
	base       *url.URL
	searchPath string
	partsPath  string
	categoryID string
}

// NewTarget validates the target section of the configuration.
func NewTarget(cfg config.TargetConfig) (Target, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return Target{}, fmt.Errorf("invalid target base URL %q", cfg.BaseURL)
	}
	return Target{
		base:       base,
		searchPath: cfg.SearchPath,
		partsPath:  cfg.PartsPath,
		categoryID: cfg.CategoryID,
	}, nil
}

// Host is the catalog host name.
func (t Target) Host() string {
	return t.base.Hostname()
}

// BaseURL is the parsed catalog root.
func (t Target) BaseURL() *url.URL {
	u := *t.base
	return &u
}

// HomeURL is the page a session is warmed up on.
func (t Target) HomeURL() string {
	return t.base.String() + "/"
}

// SearchURL is the vehicle lookup page for vin.
func (t Target) SearchURL(vin string) string {
	return t.build(t.searchPath, url.Values{"q": {vin}})
}

// PartsURL is the parts listing for a recovered vehicle context.
func (t Target) PartsURL(vc extract.Context) string {
	q := url.Values{
		"c":   {vc.CatalogCode},
		"vid": {vc.VehicleID},
	}
	if vc.SessionData != "" {
		q.Set("ssd", vc.SessionData)
	}
	cid := vc.CategoryID
	if cid == "" {
		cid = t.categoryID
	}
	if cid != "" {
		q.Set("cid", cid)
	}
	return t.build(t.partsPath, q)
}

func (t Target) build(path string, q url.Values) string {
	u := *t.base
	u.Path = strings.TrimRight(t.base.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = q.Encode()
	return u.String()
}

// vehicleFor merges the extracted description with the catalog context.
func vehicleFor(page, vin string, vc extract.Context) *types.VehicleInfo {
	vehicle := extract.Vehicle(page, vin)
	if vehicle == nil {
		vehicle = &types.VehicleInfo{VIN: vin}
	}
	vehicle.CatalogCode = vc.CatalogCode
	vehicle.VehicleID = vc.VehicleID
	vehicle.SessionData = vc.SessionData
	return vehicle
}

func errVehicleNotFound() error {
	return utils.NewError(utils.ErrCodeParseFailure, "vehicle identifiers not found on lookup page").Build()
}

func errChallengeUnresolved(stage string) error {
	return utils.NewError(utils.ErrCodeChallengeUnresolved, "challenge page still served after retry").
		WithContext("stage", stage).
		Build()
}

// failure logs err at a level matching its kind and converts it to the
// result a strategy returns. Credential problems need an operator; a
// challenge means the method is being blocked.
func failure(log utils.Logger, method string, err error) *types.SearchResult {
	switch {
	case errors.Is(err, utils.ErrUpstreamAuth):
		log.Errorf("%s cannot be used: %v", method, err)
	case errors.Is(err, utils.ErrChallengeUnresolved), errors.Is(err, utils.ErrChallengeDetected):
		log.Warnf("%s blocked by a challenge: %v", method, err)
	default:
		log.Debugf("%s failed: %v", method, err)
	}
	return types.NewFailure(method, err.Error())
}

// internal/scraper/direct_test.go
package scraper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/vinparts/internal/antidetect"
	"github.com/valpere/vinparts/internal/utils"
	"github.com/valpere/vinparts/pkg/types"
)

func TestDirectStrategySearch(t *testing.T) {
	fc := newFakeCatalog(t)
	d := NewDirectStrategy(testDirectConfig(), fc.target(t), testSolver())

	res := d.SearchByVin(context.Background(), testVIN)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "direct", res.Method)
	require.Len(t, res.Parts, 3)
	assert.False(t, res.Placeholder)
	assert.Equal(t, "11427953129", res.Parts[0].PartNumber)
	assert.Equal(t, "GBP", res.Parts[0].Currency)

	require.NotNil(t, res.Vehicle)
	assert.Equal(t, "BMW", res.Vehicle.Make)
	assert.Equal(t, "778899", res.Vehicle.VehicleID)
	assert.True(t, fc.sawSession.Load(), "warm-up cookie on the lookup request")
}

func TestDirectStrategySolvesChallengeOnce(t *testing.T) {
	fc := newFakeCatalog(t)
	fc.challenges.Store(1)
	d := NewDirectStrategy(testDirectConfig(), fc.target(t), testSolver())

	res := d.SearchByVin(context.Background(), testVIN)
	require.True(t, res.Success, res.Error)
	assert.EqualValues(t, 2, fc.lookups.Load(), "lookup requested twice")
	assert.True(t, fc.sawClearance.Load(), "clearance cookie on the retried lookup")
}

func TestDirectStrategyChallengeUnresolved(t *testing.T) {
	fc := newFakeCatalog(t)
	fc.challenges.Store(5)
	d := NewDirectStrategy(testDirectConfig(), fc.target(t), testSolver())

	res := d.SearchByVin(context.Background(), testVIN)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, string(utils.ErrCodeChallengeUnresolved))
	assert.EqualValues(t, 2, fc.lookups.Load(), "exactly one retry")
	assert.Zero(t, fc.partsHits.Load(), "parts page must not be requested after an unresolved challenge")
}

func TestDirectStrategyNoVehicleContext(t *testing.T) {
	fc := newFakeCatalog(t)
	d := NewDirectStrategy(testDirectConfig(), fc.target(t), antidetect.NoopSolver{})

	res := d.SearchByVin(context.Background(), "WVWZZZ1JZXW000001")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, string(utils.ErrCodeParseFailure))
}

func TestDirectStrategyPlaceholderListing(t *testing.T) {
	fc := newFakeCatalog(t)
	fc.listing.Store(placeholderHTML)
	d := NewDirectStrategy(testDirectConfig(), fc.target(t), testSolver())

	res := d.SearchByVin(context.Background(), testVIN)
	require.True(t, res.Success, res.Error)
	require.True(t, res.Placeholder)
	for _, p := range res.Parts {
		assert.Equal(t, types.PartKindPlaceholder, p.Kind)
	}
}

func TestDirectStrategyNetworkFailure(t *testing.T) {
	fc := newFakeCatalog(t)
	target := fc.target(t)
	fc.srv.Close()

	d := NewDirectStrategy(testDirectConfig(), target, testSolver())
	d.client.sleep = noWait

	res := d.SearchByVin(context.Background(), testVIN)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, string(utils.ErrCodeNetworkFailure))
}

func TestTargetURLs(t *testing.T) {
	fc := newFakeCatalog(t)
	target := fc.target(t)

	assert.Equal(t, fc.srv.URL+"/en/search/all?q="+testVIN, target.SearchURL(testVIN))
	assert.Equal(t, fc.srv.URL+"/", target.HomeURL())
}

package geometry

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"p9e.in/takweed/models"
)

// ErrInvalidPolygon is returned for rings that cannot describe a plot.
var ErrInvalidPolygon = errors.New("invalid polygon")

// ValidateRing checks that coords describe a usable plot boundary: at least
// three distinct vertices, each within WGS84 ranges.
func ValidateRing(coords []models.Coordinate) error {
	distinct := make(map[models.Coordinate]struct{}, len(coords))
	for i, c := range coords {
		if err := validateCoordinate(c); err != nil {
			return fmt.Errorf("%w: coordinate %d: %v", ErrInvalidPolygon, i, err)
		}
		distinct[c] = struct{}{}
	}
	if len(distinct) < 3 {
		return fmt.Errorf("%w: need at least 3 distinct coordinates, got %d", ErrInvalidPolygon, len(distinct))
	}
	return nil
}

func validateCoordinate(c models.Coordinate) error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %.6f is out of valid range [-90, 90]", c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("longitude %.6f is out of valid range [-180, 180]", c.Lng)
	}
	return nil
}

// CloseRing returns coords with the first vertex repeated at the end when
// the ring is open.
func CloseRing(coords []models.Coordinate) []models.Coordinate {
	if len(coords) == 0 {
		return coords
	}
	if coords[0] == coords[len(coords)-1] {
		return coords
	}
	closed := make([]models.Coordinate, len(coords), len(coords)+1)
	copy(closed, coords)
	return append(closed, coords[0])
}

// Ring converts plot coordinates to an orb ring (x = lng, y = lat).
func Ring(coords []models.Coordinate) orb.Ring {
	ring := make(orb.Ring, len(coords))
	for i, c := range coords {
		ring[i] = orb.Point{c.Lng, c.Lat}
	}
	return ring
}

// Coordinates converts an orb ring back to plot coordinates.
func Coordinates(ring orb.Ring) []models.Coordinate {
	coords := make([]models.Coordinate, len(ring))
	for i, p := range ring {
		coords[i] = models.Coordinate{Lat: p.Lat(), Lng: p.Lon()}
	}
	return coords
}

// Area is the area of the plot boundary in square metres.
func Area(coords []models.Coordinate) float64 {
	if len(coords) < 3 {
		return 0
	}
	return geo.Area(orb.Polygon{Ring(CloseRing(coords))})
}

// Feature renders a plot as a GeoJSON polygon feature.
func Feature(g *models.Geometry) *geojson.Feature {
	f := geojson.NewFeature(orb.Polygon{Ring(CloseRing(g.Coordinates))})
	f.ID = g.ID.String()
	f.Properties["code"] = g.Code
	f.Properties["point"] = g.Point
	f.Properties["season"] = g.Season()
	if g.Area != nil {
		f.Properties["area"] = *g.Area
	}
	f.Properties["intersections"] = len(g.Intersections)
	return f
}

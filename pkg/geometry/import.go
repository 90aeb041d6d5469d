package geometry

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"p9e.in/takweed/models"
)

// ErrNoPlots is returned when an uploaded survey contains no usable boundary.
var ErrNoPlots = errors.New("survey contains no plot boundaries")

type gpxFile struct {
	XMLName  xml.Name `xml:"gpx"`
	Metadata struct {
		Time string `xml:"time"`
	} `xml:"metadata"`
	Tracks []struct {
		Name     string `xml:"name"`
		Segments []struct {
			Points []gpxPoint `xml:"trkpt"`
		} `xml:"trkseg"`
	} `xml:"trk"`
	Routes []struct {
		Name   string     `xml:"name"`
		Points []gpxPoint `xml:"rtept"`
	} `xml:"rte"`
}

type gpxPoint struct {
	Lat  float64 `xml:"lat,attr"`
	Lon  float64 `xml:"lon,attr"`
	Time string  `xml:"time"`
}

// ParseGPX turns every track and route of a GPX survey into a plot of code.
// Plots are labelled by their name, or "plot N" when unnamed. The survey
// date comes from the metadata time, else the first timestamped point.
func ParseGPX(code string, data []byte) ([]models.Geometry, error) {
	var f gpxFile
	if err := xml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse GPX: %w", err)
	}

	surveyed := parseSurveyTime(f.Metadata.Time)
	var plots []models.Geometry
	add := func(name string, pts []gpxPoint) {
		if len(pts) < 3 {
			return
		}
		ring := make(orb.Ring, len(pts))
		for i, p := range pts {
			ring[i] = orb.Point{p.Lon, p.Lat}
			if surveyed.IsZero() {
				surveyed = parseSurveyTime(p.Time)
			}
		}
		plots = append(plots, models.Geometry{
			Code:        code,
			Point:       plotLabel(name, len(plots)+1),
			Coordinates: Coordinates(ring),
		})
	}

	for _, trk := range f.Tracks {
		var pts []gpxPoint
		for _, seg := range trk.Segments {
			pts = append(pts, seg.Points...)
		}
		add(trk.Name, pts)
	}
	for _, rte := range f.Routes {
		add(rte.Name, rte.Points)
	}

	if len(plots) == 0 {
		return nil, ErrNoPlots
	}
	for i := range plots {
		plots[i].GpxDate = surveyed
	}
	return plots, nil
}

type kmlRing struct {
	Coordinates string `xml:"coordinates"`
}

type kmlPolygon struct {
	OuterBoundary struct {
		LinearRing kmlRing `xml:"LinearRing"`
	} `xml:"outerBoundaryIs"`
}

type kmlPlacemark struct {
	Name          string      `xml:"name"`
	TimeStamp     string      `xml:"TimeStamp>when"`
	Polygon       *kmlPolygon `xml:"Polygon"`
	MultiGeometry *struct {
		Polygons []kmlPolygon `xml:"Polygon"`
	} `xml:"MultiGeometry"`
}

type kmlFolder struct {
	Name       string         `xml:"name"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
	Folders    []kmlFolder    `xml:"Folder"`
}

type kmlFile struct {
	XMLName  xml.Name `xml:"kml"`
	Document struct {
		Placemarks []kmlPlacemark `xml:"Placemark"`
		Folders    []kmlFolder    `xml:"Folder"`
	} `xml:"Document"`
}

// ParseKMZ extracts the KML document from a KMZ archive and parses it with
// ParseKML.
func ParseKMZ(code string, data []byte) ([]models.Geometry, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open KMZ archive: %w", err)
	}
	for _, f := range reader.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".kml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open KML file: %w", err)
		}
		kml, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read KML file: %w", err)
		}
		return ParseKML(code, kml)
	}
	return nil, fmt.Errorf("no KML file found in KMZ archive")
}

// ParseKML turns every polygon placemark, including those in nested
// folders and multi-geometries, into a plot of code.
func ParseKML(code string, data []byte) ([]models.Geometry, error) {
	var k kmlFile
	if err := xml.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("failed to parse KML: %w", err)
	}

	var plots []models.Geometry
	var visit func(pms []kmlPlacemark, folders []kmlFolder)
	visit = func(pms []kmlPlacemark, folders []kmlFolder) {
		for _, pm := range pms {
			polys := []kmlPolygon{}
			if pm.Polygon != nil {
				polys = append(polys, *pm.Polygon)
			}
			if pm.MultiGeometry != nil {
				polys = append(polys, pm.MultiGeometry.Polygons...)
			}
			for _, pg := range polys {
				ring := parseKMLCoordinates(pg.OuterBoundary.LinearRing.Coordinates)
				if len(ring) < 3 {
					continue
				}
				plots = append(plots, models.Geometry{
					Code:        code,
					Point:       plotLabel(pm.Name, len(plots)+1),
					Coordinates: Coordinates(ring),
					GpxDate:     parseSurveyTime(pm.TimeStamp),
				})
			}
		}
		for _, sub := range folders {
			visit(sub.Placemarks, sub.Folders)
		}
	}
	visit(k.Document.Placemarks, k.Document.Folders)

	if len(plots) == 0 {
		return nil, ErrNoPlots
	}
	return plots, nil
}

// parseKMLCoordinates reads "lon,lat[,ele]" tuples separated by whitespace.
func parseKMLCoordinates(s string) orb.Ring {
	var ring orb.Ring
	for _, tuple := range strings.Fields(strings.TrimSpace(s)) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			continue
		}
		lon, err1 := strconv.ParseFloat(parts[0], 64)
		lat, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		ring = append(ring, orb.Point{lon, lat})
	}
	return ring
}

func parseSurveyTime(s string) models.JSONTime {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.JSONTime{}
	}
	t, err := models.ParseJSONTime(s)
	if err != nil {
		return models.JSONTime{}
	}
	return t
}

func plotLabel(name string, n int) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return fmt.Sprintf("plot %d", n)
}

// README: Geographic point value object. Wire format is a [lon, lat] pair.
package types

import (
	"encoding/json"
	"fmt"
	"math"
)

type Point struct {
	Lng float64
	Lat float64
}

// PointFromPair builds a point from a [lon, lat] pair.
func PointFromPair(pair []float64) (Point, error) {
	if len(pair) != 2 {
		return Point{}, fmt.Errorf("%w: coordinates must be [lon, lat]", ErrInvalidInput)
	}
	p := Point{Lng: pair[0], Lat: pair[1]}
	if err := p.Validate(); err != nil {
		return Point{}, err
	}
	return p, nil
}

func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return fmt.Errorf("%w: coordinates must be finite", ErrInvalidInput)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %.6f out of range", ErrInvalidInput, p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: longitude %.6f out of range", ErrInvalidInput, p.Lng)
	}
	return nil
}

func (p Point) Pair() []float64 { return []float64{p.Lng, p.Lat} }

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Pair())
}

func (p *Point) UnmarshalJSON(b []byte) error {
	var pair []float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("%w: coordinates must be [lon, lat]", ErrInvalidInput)
	}
	v, err := PointFromPair(pair)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// README: Google Maps geocoding collaborator: reverse geocode, autocomplete, place details and directions.
package maps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"googlemaps.github.io/maps"

	"campuspool/internal/logger"
	"campuspool/internal/o11y"
	"campuspool/internal/types"
)

var ErrNoRoute = fmt.Errorf("%w: no route found between the specified points", types.ErrNotFound)

type Config struct {
	APIKey string `mapstructure:"api_key"`
	// BaseURL overrides the Google endpoint host. Tests point it at a local server.
	BaseURL string `mapstructure:"base_url"`
	// Country restricts autocomplete results, as an ISO 3166-1 code.
	Country string        `mapstructure:"country"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Address struct {
	FormattedAddress string      `json:"formatted_address"`
	PlaceID          string      `json:"place_id"`
	Location         types.Point `json:"location"`
}

type Suggestion struct {
	Description   string `json:"description"`
	PlaceID       string `json:"place_id"`
	MainText      string `json:"main_text,omitempty"`
	SecondaryText string `json:"secondary_text,omitempty"`
}

type PlaceDetails struct {
	PlaceID          string      `json:"place_id"`
	Name             string      `json:"name"`
	FormattedAddress string      `json:"formatted_address"`
	Location         types.Point `json:"location"`
	Rating           float32     `json:"rating,omitempty"`
	UserRatingsTotal int         `json:"user_ratings_total,omitempty"`
}

type Route struct {
	Distance        string `json:"distance"`
	DistanceMeters  int    `json:"distance_value"`
	Duration        string `json:"duration"`
	DurationSeconds int    `json:"duration_value"`
	StartAddress    string `json:"start_address"`
	EndAddress      string `json:"end_address"`
	Polyline        string `json:"polyline"`
}

// Geocoder wraps the Google Maps client. Every upstream failure is reported as
// types.ErrUpstreamUnavailable.
type Geocoder struct {
	client  *maps.Client
	country string
	timeout time.Duration
	log     logrus.FieldLogger
}

func NewGeocoder(cfg Config, log logrus.FieldLogger) (*Geocoder, error) {
	opts := []maps.ClientOption{maps.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, maps.WithBaseURL(cfg.BaseURL))
	}
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Geocoder{client: client, country: cfg.Country, timeout: timeout, log: logger.OrDiscard(log)}, nil
}

func (g *Geocoder) ReverseGeocode(ctx context.Context, p types.Point) ([]Address, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: p.Lat, Lng: p.Lng},
	})
	if err != nil {
		return nil, g.upstream("geocode", err)
	}
	out := make([]Address, 0, len(results))
	for _, r := range results {
		out = append(out, Address{
			FormattedAddress: r.FormattedAddress,
			PlaceID:          r.PlaceID,
			Location:         types.Point{Lng: r.Geometry.Location.Lng, Lat: r.Geometry.Location.Lat},
		})
	}
	return out, nil
}

// Autocomplete suggests places for a partial query, biased towards near when it is set.
func (g *Geocoder) Autocomplete(ctx context.Context, input string, near *types.Point) ([]Suggestion, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("%w: input query required", types.ErrInvalidInput)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := &maps.PlaceAutocompleteRequest{Input: input}
	if g.country != "" {
		req.Components = map[maps.Component][]string{maps.ComponentCountry: {g.country}}
	}
	if near != nil {
		req.Location = &maps.LatLng{Lat: near.Lat, Lng: near.Lng}
		req.Radius = 30000
	}
	resp, err := g.client.PlaceAutocomplete(ctx, req)
	if err != nil {
		return nil, g.upstream("autocomplete", err)
	}
	out := make([]Suggestion, 0, len(resp.Predictions))
	for _, p := range resp.Predictions {
		out = append(out, Suggestion{
			Description:   p.Description,
			PlaceID:       p.PlaceID,
			MainText:      p.StructuredFormatting.MainText,
			SecondaryText: p.StructuredFormatting.SecondaryText,
		})
	}
	return out, nil
}

func (g *Geocoder) PlaceDetails(ctx context.Context, placeID string) (*PlaceDetails, error) {
	placeID = strings.TrimSpace(placeID)
	if placeID == "" {
		return nil, fmt.Errorf("%w: place id required", types.ErrInvalidInput)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	r, err := g.client.PlaceDetails(ctx, &maps.PlaceDetailsRequest{
		PlaceID: placeID,
		Fields: []maps.PlaceDetailsFieldMask{
			maps.PlaceDetailsFieldMaskPlaceID,
			maps.PlaceDetailsFieldMaskName,
			maps.PlaceDetailsFieldMaskFormattedAddress,
			maps.PlaceDetailsFieldMaskGeometry,
			maps.PlaceDetailsFieldMaskRatings,
			maps.PlaceDetailsFieldMaskUserRatingsTotal,
		},
	})
	if err != nil {
		return nil, g.upstream("place_details", err)
	}
	return &PlaceDetails{
		PlaceID:          r.PlaceID,
		Name:             r.Name,
		FormattedAddress: r.FormattedAddress,
		Location:         types.Point{Lng: r.Geometry.Location.Lng, Lat: r.Geometry.Location.Lat},
		Rating:           r.Rating,
		UserRatingsTotal: r.UserRatingsTotal,
	}, nil
}

// Directions returns the first driving route between two points.
func (g *Geocoder) Directions(ctx context.Context, origin, destination types.Point) (*Route, error) {
	if err := origin.Validate(); err != nil {
		return nil, err
	}
	if err := destination.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	routes, _, err := g.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:      latLng(origin),
		Destination: latLng(destination),
		Mode:        maps.TravelModeDriving,
	})
	if err != nil {
		return nil, g.upstream("directions", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, ErrNoRoute
	}
	leg := routes[0].Legs[0]
	return &Route{
		Distance:        leg.Distance.HumanReadable,
		DistanceMeters:  leg.Distance.Meters,
		Duration:        leg.Duration.Round(time.Minute).String(),
		DurationSeconds: int(leg.Duration.Seconds()),
		StartAddress:    leg.StartAddress,
		EndAddress:      leg.EndAddress,
		Polyline:        routes[0].OverviewPolyline.Points,
	}, nil
}

func (g *Geocoder) upstream(call string, err error) error {
	o11y.UpstreamErrors.WithLabelValues("google_maps").Inc()
	g.log.WithError(err).WithField("call", call).Warn("google maps call failed")
	return fmt.Errorf("%w: maps %s: %v", types.ErrUpstreamUnavailable, call, err)
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}

package job

import (
	"encoding/json"
	"fmt"
	"strconv"

	"routeworker/internal/geo"
	"routeworker/internal/model"
	"routeworker/internal/opt"
)

// Request size limits. The solver's distance matrix grows with the square of the stop
// count and every driver gets a route on the reply.
const (
	MaxStops   = 2500
	MaxDrivers = 1000
)

// Request is a decoded job. Features[i] is the wire form of Problem.Stops[i].
type Request struct {
	Problem  opt.Problem
	Features []model.Feature
}

// Decode parses and validates a job body. Every failure wraps ErrParse.
func Decode(body []byte) (Request, error) {
	var in model.JobRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(in.Features) == 0 {
		return Request{}, fmt.Errorf("%w: %w", ErrParse, opt.ErrNoStops)
	}
	if len(in.Features) > MaxStops {
		return Request{}, fmt.Errorf("%w: %d stops, limit is %d", ErrParse, len(in.Features), MaxStops)
	}
	drivers := 1
	if in.NumberDrivers != nil {
		drivers = *in.NumberDrivers
	}
	if drivers < 1 {
		return Request{}, fmt.Errorf("%w: %w (got %d)", ErrParse, opt.ErrNoDrivers, drivers)
	}
	if drivers > MaxDrivers {
		return Request{}, fmt.Errorf("%w: %d drivers, limit is %d", ErrParse, drivers, MaxDrivers)
	}

	stops := make([]opt.Stop, len(in.Features))
	seen := make(map[int]int, len(in.Features))
	for i, f := range in.Features {
		if f.Geometry.Type != "Point" {
			return Request{}, fmt.Errorf("%w: feature %d: geometry type %q, want Point", ErrParse, i, f.Geometry.Type)
		}
		c := f.Geometry.Coordinates
		if len(c) != 2 {
			return Request{}, fmt.Errorf("%w: feature %d: want [lon, lat], got %d coordinates", ErrParse, i, len(c))
		}
		pt := geo.Point{Lat: c[1], Lng: c[0]}
		if !pt.Valid() {
			return Request{}, fmt.Errorf("%w: feature %d: coordinate out of range (lat %v, lon %v)", ErrParse, i, pt.Lat, pt.Lng)
		}
		id := i
		if f.Properties.ID != nil {
			id = *f.Properties.ID
		}
		if prev, dup := seen[id]; dup {
			return Request{}, fmt.Errorf("%w: features %d and %d share id %d", ErrParse, prev, i, id)
		}
		seen[id] = i
		stops[i] = opt.Stop{ID: id, Point: pt}
	}

	return Request{
		Problem: opt.Problem{
			Stops:         stops,
			Drivers:       drivers,
			ReturnToStart: in.ReturnToStart,
			Options:       in.Options,
		},
		Features: in.Features,
	}, nil
}

// Label is the human-readable name of a stop on replies.
func Label(f model.Feature, id int) string {
	if f.Properties.Address != "" {
		return f.Properties.Address
	}
	return "stop " + strconv.Itoa(id)
}

// Result maps a solution back onto the request's features. It fails with ErrSolve
// when sol does not route every stop exactly once.
func Result(req Request, sol opt.Solution) (model.JobResult, error) {
	if err := sol.Validate(len(req.Problem.Stops)); err != nil {
		return model.JobResult{}, fmt.Errorf("%w: %w", ErrSolve, err)
	}
	res := model.JobResult{Routes: make([]model.DriverRoute, len(sol.Plans)), TotalDistance: sol.Cost}
	for i, plan := range sol.Plans {
		features := make([]model.Feature, 0, len(plan.Order))
		for pos, idx := range plan.Order {
			stop := req.Problem.Stops[idx]
			id := stop.ID
			features = append(features, model.Feature{
				Type:     "Feature",
				Geometry: model.Geometry{Type: "Point", Coordinates: []float64{stop.Point.Lng, stop.Point.Lat}},
				Properties: model.FeatureProperties{
					ID:      &id,
					Address: Label(req.Features[idx], id),
					Order:   pos + 1,
					Driver:  plan.Driver,
				},
			})
		}
		res.Routes[i] = model.DriverRoute{Driver: plan.Driver, Distance: plan.Distance, Features: features}
	}
	return res, nil
}

// Encode renders the reply body for sol.
func Encode(req Request, sol opt.Solution) ([]byte, error) {
	res, err := Result(req, sol)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("job: encode reply: %w", err)
	}
	return body, nil
}

// DecodeResult parses a reply body.
func DecodeResult(body []byte) (model.JobResult, error) {
	var res model.JobResult
	if err := json.Unmarshal(body, &res); err != nil {
		return model.JobResult{}, fmt.Errorf("job: decode reply: %w", err)
	}
	return res, nil
}

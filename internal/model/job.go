package model

// Wire schema for route jobs. Requests and replies are GeoJSON-style point features.

type JobRequest struct {
	Features      []Feature `json:"features"`
	NumberDrivers *int      `json:"numberDrivers,omitempty"`
	ReturnToStart bool      `json:"returnToStart,omitempty"`
	// Options is an opaque flag array passed through to the solver unchanged.
	Options []bool `json:"options,omitempty"`
}

type Feature struct {
	Type       string            `json:"type"`
	Geometry   Geometry          `json:"geometry"`
	Properties FeatureProperties `json:"properties"`
}

// Geometry coordinates are [longitude, latitude].
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

type FeatureProperties struct {
	ID      *int   `json:"id,omitempty"`
	Address string `json:"address,omitempty"`
	// Order and Driver are set on replies only. Order is 1-based within the driver's route.
	Order  int `json:"order,omitempty"`
	Driver int `json:"driver,omitempty"`
}

type JobResult struct {
	Routes        []DriverRoute `json:"routes"`
	TotalDistance float64       `json:"totalDistance"`
}

type DriverRoute struct {
	Driver   int       `json:"driver"`
	Distance float64   `json:"distance"`
	Features []Feature `json:"features"`
}

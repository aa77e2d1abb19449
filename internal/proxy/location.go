package proxy

// Location is a SensorThings Location entity with a GeoJSON point.
type Location struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	EncodingType string  `json:"encodingType"`
	Location     Feature `json:"location"`
}

type Feature struct {
	Type     string `json:"type"`
	Geometry Point  `json:"geometry"`
}

// Point coordinates are [lon, lat] as GeoJSON requires.
type Point struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

func NewLocation(name string, lat, lon float64) Location {
	return Location{
		Name:         name,
		Description:  "Continuously updated GPS location of tracker device",
		EncodingType: "application/vnd.geo+json",
		Location: Feature{
			Type: "Feature",
			Geometry: Point{
				Type:        "Point",
				Coordinates: [2]float64{lon, lat},
			},
		},
	}
}

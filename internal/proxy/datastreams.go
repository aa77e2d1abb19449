package proxy

import (
	"encoding/json"
	"fmt"
	"os"
)

// Datastream is the SensorThings endpoint a device's locations are posted to.
type Datastream struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// LoadDatastreams reads a JSON object mapping device IDs to datastreams.
func LoadDatastreams(path string) (map[string]Datastream, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("proxy: read datastreams: %w", err)
	}
	var ds map[string]Datastream
	if err := json.Unmarshal(b, &ds); err != nil {
		return nil, fmt.Errorf("proxy: parse datastreams %s: %w", path, err)
	}
	for dev, d := range ds {
		if d.URL == "" {
			return nil, fmt.Errorf("proxy: datastream for %q has no url", dev)
		}
	}
	return ds, nil
}

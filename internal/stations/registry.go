// Package stations loads the gauge station registry from a JSON file.
//
// The registry names every station the service reconciles and maps each
// upstream provider to the column names its feed uses, so new providers can
// be onboarded without a code change.
package stations

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/couchcryptid/rain-gauge-reconciler/internal/domain"
)

var validate = validator.New()

// Station identifies one rain gauge and the provider its readings come from.
type Station struct {
	ID     string `json:"id"     validate:"required"`
	Name   string `json:"name"   validate:"required"`
	Region string `json:"region"`
	Source string `json:"source" validate:"required"`
}

type registryFile struct {
	Providers map[string]domain.FieldMap `json:"providers"`
	Stations  []Station                  `json:"stations"`
}

// Registry is the loaded, validated station catalog.
type Registry struct {
	stations  map[string]Station
	order     []string
	providers map[string]domain.FieldMap
}

// Load reads and validates the registry file at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stations file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Registry from raw JSON.
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse stations file: %w", err)
	}
	if len(file.Stations) == 0 {
		return nil, fmt.Errorf("stations file lists no stations")
	}

	r := &Registry{
		stations:  make(map[string]Station, len(file.Stations)),
		providers: make(map[string]domain.FieldMap, len(file.Providers)),
	}

	for name, fm := range file.Providers {
		if err := validate.Struct(fm); err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		r.providers[name] = fm
	}

	for _, st := range file.Stations {
		if err := validate.Struct(st); err != nil {
			return nil, fmt.Errorf("station %q: %w", st.ID, err)
		}
		if _, dup := r.stations[st.ID]; dup {
			return nil, fmt.Errorf("duplicate station id %q", st.ID)
		}
		if _, ok := r.providers[st.Source]; !ok && len(r.providers) > 0 {
			return nil, fmt.Errorf("station %q references unknown provider %q", st.ID, st.Source)
		}
		r.stations[st.ID] = st
		r.order = append(r.order, st.ID)
	}

	return r, nil
}

// Lookup returns the station with the given id.
func (r *Registry) Lookup(id string) (Station, bool) {
	st, ok := r.stations[id]
	return st, ok
}

// FieldMapFor returns the column mapping for a provider, falling back to the
// canonical column names when the provider declares none.
func (r *Registry) FieldMapFor(source string) domain.FieldMap {
	if fm, ok := r.providers[source]; ok {
		return fm
	}
	return domain.DefaultFieldMap
}

// All returns every registered station in file order.
func (r *Registry) All() []Station {
	out := make([]Station, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.stations[id])
	}
	return out
}

// Series returns an empty series seeded with the station's identity, used
// when no persisted record exists yet.
func (r *Registry) Series(id string) domain.Series {
	st, ok := r.stations[id]
	if !ok {
		return domain.Series{StationID: id}
	}
	return domain.Series{
		StationID:   st.ID,
		StationName: st.Name,
		Region:      st.Region,
		Source:      st.Source,
	}
}

package stations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryJSON = `{
	"providers": {
		"siata": {"date": "fecha", "time": "hora", "rainfall": "valor", "total": "acumulado"},
		"ideam": {"dateTime": "observed_at", "rainfall": "precip_mm"}
	},
	"stations": [
		{"id": "gauge-001", "name": "North Basin", "region": "Antioquia", "source": "siata"},
		{"id": "gauge-002", "name": "East Ridge", "region": "Antioquia", "source": "ideam"}
	]
}`

func TestParse(t *testing.T) {
	r, err := Parse([]byte(registryJSON))
	require.NoError(t, err)

	st, ok := r.Lookup("gauge-001")
	require.True(t, ok)
	assert.Equal(t, "North Basin", st.Name)
	assert.Equal(t, "siata", st.Source)

	_, ok = r.Lookup("gauge-404")
	assert.False(t, ok)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "gauge-001", all[0].ID)
	assert.Equal(t, "gauge-002", all[1].ID)
}

func TestParse_FieldMaps(t *testing.T) {
	r, err := Parse([]byte(registryJSON))
	require.NoError(t, err)

	fm := r.FieldMapFor("siata")
	assert.Equal(t, "fecha", fm.Date)
	assert.Equal(t, "valor", fm.Rainfall)

	fm = r.FieldMapFor("ideam")
	assert.Equal(t, "observed_at", fm.DateTime)

	// Unknown providers fall back to the canonical columns.
	fm = r.FieldMapFor("nonesuch")
	assert.Equal(t, "rainfall_mm", fm.Rainfall)
	assert.Equal(t, "date", fm.Date)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"stations": [`},
		{"no stations", `{"stations": []}`},
		{"station missing id", `{"stations": [{"name": "x", "source": "s"}]}`},
		{"station missing source", `{"stations": [{"id": "g-1", "name": "x"}]}`},
		{
			"duplicate station id",
			`{"stations": [
				{"id": "g-1", "name": "a", "source": "s"},
				{"id": "g-1", "name": "b", "source": "s"}
			]}`,
		},
		{
			"unknown provider reference",
			`{
				"providers": {"siata": {"date": "fecha", "time": "hora", "rainfall": "valor"}},
				"stations": [{"id": "g-1", "name": "a", "source": "ideam"}]
			}`,
		},
		{
			"provider mapping without rainfall column",
			`{
				"providers": {"siata": {"date": "fecha", "time": "hora"}},
				"stations": [{"id": "g-1", "name": "a", "source": "siata"}]
			}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestParse_NoProvidersAllowsAnySource(t *testing.T) {
	r, err := Parse([]byte(`{"stations": [{"id": "g-1", "name": "a", "source": "siata"}]}`))
	require.NoError(t, err)
	fm := r.FieldMapFor("siata")
	assert.Equal(t, "rainfall_mm", fm.Rainfall)
}

func TestRegistry_Series(t *testing.T) {
	r, err := Parse([]byte(registryJSON))
	require.NoError(t, err)

	s := r.Series("gauge-001")
	assert.Equal(t, "gauge-001", s.StationID)
	assert.Equal(t, "North Basin", s.StationName)
	assert.Equal(t, "Antioquia", s.Region)
	assert.Equal(t, "siata", s.Source)
	assert.Empty(t, s.Readings)

	// Unregistered stations still get a usable identity.
	s = r.Series("gauge-404")
	assert.Equal(t, "gauge-404", s.StationID)
	assert.Empty(t, s.StationName)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.json")
	require.NoError(t, os.WriteFile(path, []byte(registryJSON), 0o600))

	r, err := Load(path)
	require.NoError(t, err)
	_, ok := r.Lookup("gauge-002")
	assert.True(t, ok)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

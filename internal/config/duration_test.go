package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_UnmarshalYAML(t *testing.T) {
	var v struct {
		Timeout Duration `yaml:"timeout"`
	}

	require.NoError(t, yaml.Unmarshal([]byte(`timeout: 1h30m`), &v))
	assert.Equal(t, 90*time.Minute, v.Timeout.Duration())

	require.NoError(t, yaml.Unmarshal([]byte(`timeout: ""`), &v))
	assert.Equal(t, time.Duration(0), v.Timeout.Duration())

	assert.Error(t, yaml.Unmarshal([]byte(`timeout: soon`), &v))
}

func TestDuration_MarshalYAML(t *testing.T) {
	out, err := yaml.Marshal(struct {
		Timeout Duration `yaml:"timeout"`
	}{Timeout: Duration(45 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, "timeout: 45s\n", string(out))
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	var v struct {
		Timeout Duration `json:"timeout"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"timeout":"250ms"}`), &v))
	assert.Equal(t, 250*time.Millisecond, v.Timeout.Duration())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"timeout":"250ms"}`, string(out))

	require.NoError(t, json.Unmarshal([]byte(`{"timeout":null}`), &v))
	assert.Equal(t, time.Duration(0), v.Timeout.Duration())
}

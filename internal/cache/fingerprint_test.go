package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bilalobe/opossum-router/internal/backend"
)

func TestFingerprint_Stable(t *testing.T) {
	req := backend.Request{
		Task:  "chat",
		Input: "hello",
		Params: map[string]string{
			"model":       "small",
			"temperature": "0.7",
		},
	}

	assert.Equal(t, Fingerprint(req, "cloud-a"), Fingerprint(req, "cloud-a"))
}

func TestFingerprint_IgnoresRequestID(t *testing.T) {
	a := backend.Request{ID: "req-1", Task: "chat", Input: "hello"}
	b := backend.Request{ID: "req-2", Task: "chat", Input: "hello"}

	assert.Equal(t, Fingerprint(a, "cloud-a"), Fingerprint(b, "cloud-a"))
}

func TestFingerprint_ScopedToBackend(t *testing.T) {
	req := backend.Request{Task: "chat", Input: "hello"}

	assert.NotEqual(t, Fingerprint(req, "cloud-a"), Fingerprint(req, "local-b"))
}

func TestFingerprint_ParamOrderIndependent(t *testing.T) {
	a := backend.Request{
		Task:   "chat",
		Input:  "hello",
		Params: map[string]string{"model": "small", "temperature": "0.7"},
	}
	b := backend.Request{
		Task:   "chat",
		Input:  "hello",
		Params: map[string]string{"temperature": "0.7", "model": "small"},
	}

	assert.Equal(t, Fingerprint(a, "cloud-a"), Fingerprint(b, "cloud-a"))
}

func TestFingerprint_DistinguishesContent(t *testing.T) {
	base := backend.Request{Task: "chat", Input: "hello"}

	differentTask := base
	differentTask.Task = "embed"

	differentInput := base
	differentInput.Input = "goodbye"

	withParams := base
	withParams.Params = map[string]string{"model": "large"}

	assert.NotEqual(t, Fingerprint(base, "cloud-a"), Fingerprint(differentTask, "cloud-a"))
	assert.NotEqual(t, Fingerprint(base, "cloud-a"), Fingerprint(differentInput, "cloud-a"))
	assert.NotEqual(t, Fingerprint(base, "cloud-a"), Fingerprint(withParams, "cloud-a"))
}

func TestFingerprint_FieldBoundaries(t *testing.T) {
	a := backend.Request{Task: "ab", Input: "c"}
	b := backend.Request{Task: "a", Input: "bc"}

	assert.NotEqual(t, Fingerprint(a, "cloud-a"), Fingerprint(b, "cloud-a"))
}

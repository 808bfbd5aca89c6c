package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/texbuilder/internal/config"
)

func TestCompileEventJSON(t *testing.T) {
	ev := CompileEvent{
		JobID:      "7c1e",
		Document:   "thesis",
		Engine:     "xelatex",
		State:      "succeeded",
		Passes:     4,
		Warnings:   2,
		DurationMS: 1234,
		FinishedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "thesis", decoded["document"])
	assert.Equal(t, "succeeded", decoded["state"])
	assert.EqualValues(t, 4, decoded["passes"])
	assert.Equal(t, "2026-01-02T03:04:05Z", decoded["finished_at"])
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.NoError(t, p.PublishCompile(context.Background(), CompileEvent{}))
	assert.NoError(t, p.Close())
}

func TestNewNATSPublisher_Rejects(t *testing.T) {
	_, err := NewNATSPublisher(nil)
	assert.Error(t, err)

	_, err = NewNATSPublisher(&config.EventsConfig{Enabled: false})
	assert.Error(t, err)
}

func TestNew_FallsBackToNoop(t *testing.T) {
	assert.IsType(t, NoopPublisher{}, New(nil))
	assert.IsType(t, NoopPublisher{}, New(&config.EventsConfig{}))

	// Nothing listens on port 1; the connection is refused immediately.
	p := New(&config.EventsConfig{Enabled: true, NATSURL: "nats://127.0.0.1:1", Subject: "texbuilder.compile"})
	assert.IsType(t, NoopPublisher{}, p)
}

package logging

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hivemark/hivesync/errors"
)

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Config{Level: "warn", Format: "text"})

	log.Info("hidden")
	log.Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Config{Level: "info", Format: "json"})

	log.Info("hello", "table", "hives")

	assert.Contains(t, buf.String(), `"table":"hives"`)
}

func TestLogError_SyncError(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Config{Level: "debug", Format: "json"})

	err := errors.NewNetworkError(errors.OpPull, fmt.Errorf("dial tcp: refused"))
	log.LogError(context.Background(), err, "cycle failed")

	out := buf.String()
	assert.Contains(t, out, "cycle failed")
	assert.Contains(t, out, "NETWORK")
	assert.Contains(t, out, "pull")
	assert.Contains(t, out, "refused")
}

func TestLogError_PlainError(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Config{Level: "debug", Format: "text"})

	log.LogError(context.Background(), fmt.Errorf("plain failure"), "oops")
	assert.Contains(t, buf.String(), "plain failure")
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Config{Level: "info", Format: "json"})

	log.WithComponent(Component("coordinator")).Info("tick")
	assert.Contains(t, buf.String(), `"component":"coordinator"`)
}

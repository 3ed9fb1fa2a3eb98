// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Configure is once-per-process, so every assertion shares this buffer.
var logOutput bytes.Buffer

func TestMain(m *testing.M) {
	Configure(Config{Level: "debug", Output: &logOutput, Service: "test-svc", Version: "v0"})
	m.Run()
}

func lastLine(t *testing.T) map[string]any {
	t.Helper()

	lines := bytes.Split(bytes.TrimSpace(logOutput.Bytes()), []byte("\n"))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestBaseCarriesServiceFields(t *testing.T) {
	logger := Base()
	logger.Info().Msg("hello")

	entry := lastLine(t)
	assert.Equal(t, "test-svc", entry["service"])
	assert.Equal(t, "v0", entry["version"])
	assert.Equal(t, "hello", entry["message"])
	assert.NotEmpty(t, entry["time"])
}

func TestWithComponent(t *testing.T) {
	logger := WithComponent("race")
	logger.Info().Msg("attempt")

	entry := lastLine(t)
	assert.Equal(t, "race", entry["component"])
}

func TestConfigureIsOncePerProcess(t *testing.T) {
	Configure(Config{Service: "other-svc"})
	logger := Base()
	logger.Info().Msg("still first config")

	assert.Equal(t, "test-svc", lastLine(t)["service"])
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))

	tagged := WithContext(ctx, Base())
	tagged.Info().Msg("tagged")
	assert.Equal(t, "req-1", lastLine(t)["request_id"])

	untagged := WithContext(context.Background(), Base())
	untagged.Info().Msg("untagged")
	assert.NotContains(t, lastLine(t), "request_id")
}

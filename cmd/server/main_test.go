package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/consult-gateway/internal/resilience"
)

func TestNewBreaker_LogsStatsWhenOpened(t *testing.T) {
	var buf bytes.Buffer
	cb := newBreaker("stt", 2, time.Minute, zerolog.New(&buf))

	fail := func() error { return errors.New("provider down") }
	require.NoError(t, cb.Call(func() error { return nil }))
	_ = cb.Call(fail)
	assert.NotContains(t, buf.String(), "Circuit breaker opened")

	_ = cb.Call(fail)
	require.Equal(t, resilience.StateOpen, cb.GetState())

	out := buf.String()
	assert.Contains(t, out, `"message":"Circuit breaker opened"`)
	assert.Contains(t, out, `"breaker":"stt"`)
	assert.Contains(t, out, `"requests":3`)
	assert.Contains(t, out, `"failures":2`)
}

package evoasync

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGoBreaker_StartsClosed(t *testing.T) {
	cb := NewGoBreaker[string](gobreaker.Settings{Name: "test"})
	require.NotNil(t, cb)
	assert.Equal(t, CircuitStateClosed, cb.State())
}

func TestGoBreakerWrapper_Execute_Success(t *testing.T) {
	cb := NewGoBreaker[string](gobreaker.Settings{Name: "test"})

	result, err := cb.Execute(func() (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestGoBreakerWrapper_Execute_Failure(t *testing.T) {
	cb := NewGoBreaker[string](gobreaker.Settings{Name: "test"})
	boom := errors.New("boom")

	_, err := cb.Execute(func() (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestNewGobreakerConfig_TripsOnFailureRatio(t *testing.T) {
	factory := NewGobreakerConfig[string](1, time.Minute, time.Minute)
	cb := factory("backend-a")

	boom := errors.New("boom")
	for range 3 {
		_, _ = cb.Execute(func() (string, error) {
			return "", boom
		})
	}

	assert.Equal(t, CircuitStateOpen, cb.State())
}

func TestCircuitBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitStateClosed.String())
	assert.Equal(t, "half-open", CircuitStateHalfOpen.String())
	assert.Equal(t, "open", CircuitStateOpen.String())
}

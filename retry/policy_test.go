package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimited(t *testing.T) {
	p := Limited{Delay: 50 * time.Millisecond, Retries: 2}
	require.Equal(t, 50*time.Millisecond, p.Next(1, errBoom))
	require.Equal(t, 50*time.Millisecond, p.Next(2, errBoom))
	require.Equal(t, Stop, p.Next(3, errBoom))

	forever := Limited{Delay: time.Millisecond, Retries: -1}
	require.Equal(t, time.Millisecond, forever.Next(1000, errBoom))
}

func TestExponentialBackoff(t *testing.T) {
	p := ExponentialBackoff{
		Limited:    Limited{Delay: time.Second, Retries: 5},
		MaxDelay:   10 * time.Second,
		Multiplier: 2,
	}

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second, // capped
	}
	for i, w := range want {
		require.Equal(t, w, p.Next(i+1, errBoom), "failures=%d", i+1)
	}
	require.Equal(t, Stop, p.Next(6, errBoom))
}

func TestExponentialBackoffDefaultsMultiplier(t *testing.T) {
	p := ExponentialBackoff{Limited: Limited{Delay: time.Second, Retries: 10}}
	require.Equal(t, 2*time.Second, p.Next(2, errBoom))
}

func TestDefaultPolicy(t *testing.T) {
	p := Default()
	require.Equal(t, time.Second, p.Next(1, errBoom))
	require.Equal(t, 2*time.Second, p.Next(2, errBoom))
	require.Equal(t, 4*time.Second, p.Next(3, errBoom))
	require.Equal(t, Stop, p.Next(4, errBoom))
}

func TestNone(t *testing.T) {
	require.Equal(t, Stop, None{}.Next(1, errBoom))
}

func TestUnrecoverable(t *testing.T) {
	require.Nil(t, Unrecoverable(nil))

	err := Unrecoverable(errBoom)
	require.True(t, IsUnrecoverable(err))
	require.ErrorIs(t, err, errBoom)

	// Marks survive wrapping.
	wrapped := fmt.Errorf("attempt failed: %w", err)
	require.True(t, IsUnrecoverable(wrapped))

	require.False(t, IsUnrecoverable(errBoom))
	require.False(t, IsUnrecoverable(errors.New("plain")))
}

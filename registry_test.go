package avrorouter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	defer reg.Close()

	a := testConfig(t, "b-pipeline")
	_, err := reg.Add(a)
	require.NoError(t, err)
	_, err = reg.Add(testConfig(t, "a-pipeline"))
	require.NoError(t, err)

	_, err = reg.Add(testConfig(t, "a-pipeline"))
	require.ErrorIs(t, err, ErrDuplicate)
	sameDir := testConfig(t, "c-pipeline")
	sameDir.AvroDir = a.AvroDir
	_, err = reg.Add(sameDir)
	require.ErrorIs(t, err, ErrDuplicate)

	var names []string
	for _, in := range reg.Instances() {
		names = append(names, in.Name())
	}
	require.Equal(t, []string{"a-pipeline", "b-pipeline"}, names)

	in, ok := reg.Get("b-pipeline")
	require.True(t, ok)
	require.Equal(t, "b-pipeline", in.Status().Name)

	require.NoError(t, reg.Remove("b-pipeline"))
	require.ErrorIs(t, reg.Remove("b-pipeline"), ErrUnknown)
	require.Len(t, reg.Status(), 1)
}

func TestRegistry_Run(t *testing.T) {
	reg := NewRegistry()
	defer reg.Close()
	for _, name := range []string{"one", "two"} {
		_, err := reg.Add(testConfig(t, name))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Run(ctx) }()

	// each pipeline makes its first pass right away
	require.Eventually(t, func() bool {
		for _, s := range reg.Status() {
			if s.Passes == 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_, err := reg.Add(testConfig(t, "three"))
	require.NoError(t, err)
	require.NoError(t, reg.Close())
	require.Empty(t, reg.Instances())
}

package integrations

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stub struct{ name string }

func (s stub) Name() string { return s.name }

func (s stub) Run(ctx context.Context) error { return nil }

func TestRegistry(t *testing.T) {
	Register("zz-test-b", func(Deps, json.RawMessage) (Integration, error) { return stub{"b"}, nil })
	Register("zz-test-a", func(Deps, json.RawMessage) (Integration, error) { return stub{"a"}, nil })
	t.Cleanup(func() {
		regMu.Lock()
		delete(registry, "zz-test-a")
		delete(registry, "zz-test-b")
		regMu.Unlock()
	})

	f, ok := Get("zz-test-a")
	require.True(t, ok)
	inst, err := f(Deps{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", inst.Name())

	_, ok = Get("nope")
	assert.False(t, ok)

	names := Names()
	ia, ib := -1, -1
	for i, n := range names {
		switch n {
		case "zz-test-a":
			ia = i
		case "zz-test-b":
			ib = i
		}
	}
	assert.True(t, ia >= 0 && ib == ia+1, "sorted")
	_, ok = Get("zz-test-b")
	assert.True(t, ok)

	assert.Panics(t, func() {
		Register("zz-test-a", func(Deps, json.RawMessage) (Integration, error) { return nil, nil })
	})
}

func TestDepsDefaults(t *testing.T) {
	var d Deps
	assert.False(t, d.Clock().IsZero())
	assert.NotNil(t, d.Sleeper())
}

package actions

import (
	"fmt"
	"sync"
	"testing"

	"github.com/obwan02/Actionator/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Register_Success(t *testing.T) {
	reg := NewRegistry()
	d, err := reg.Register(Say, WithDescription("A test action"))
	require.NoError(t, err)
	assert.Equal(t, "say", d.Name)
	assert.Equal(t, 1, reg.Count())
	assert.True(t, reg.Has("say"))
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register(Say)
	require.NoError(t, err)

	_, err = reg.Register(SayErr, WithName("say"))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_Register_SchemaError(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register(func(a, b int) {}, WithName("pair"))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeSchema))
	assert.False(t, reg.Has("pair"))
}

func TestRegistry_Add_Invalid(t *testing.T) {
	reg := NewRegistry()
	assert.True(t, schema.IsCode(reg.Add(nil), schema.ErrCodeSchema))
	assert.True(t, schema.IsCode(reg.Add(&Descriptor{}), schema.ErrCodeSchema))
}

func TestRegistry_Get(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register(Say)
	require.NoError(t, err)

	got, err := reg.Get("say")
	require.NoError(t, err)
	assert.Equal(t, "say", got.Name)

	_, err = reg.Get("nonexistent")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestRegistry_List_Sorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := reg.Register(Say, WithName(name), WithDescription(name+" desc"))
		require.NoError(t, err)
	}

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "mid", list[1].Name)
	assert.Equal(t, "zeta", list[2].Name)
	assert.Equal(t, "alpha desc", list[0].Description)
	assert.Equal(t, Call, list[0].Convention)
	assert.NotEmpty(t, list[0].InputSchema)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = reg.Register(Say, WithName(fmt.Sprintf("action_%d", i)))
		}()
	}
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reg.List()
			_ = reg.Has("action_1")
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, reg.Count())
}

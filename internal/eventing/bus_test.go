package eventing

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rules "dispatch-ops/internal/rules/domain"
)

func TestEmitExactAndWildcard(t *testing.T) {
	bus := NewBus(nil)
	var exact, wildcard, other int

	bus.Subscribe("INCIDENT_CREATED", func(context.Context, string, rules.Context) { exact++ })
	bus.Subscribe(SubscribeAll, func(context.Context, string, rules.Context) { wildcard++ })
	bus.Subscribe("UNIT_CLEARED", func(context.Context, string, rules.Context) { other++ })

	bus.Emit(context.Background(), "INCIDENT_CREATED", rules.Context{})
	bus.Emit(context.Background(), "UNIT_ARRIVED", rules.Context{})

	assert.Equal(t, 1, exact)
	assert.Equal(t, 2, wildcard)
	assert.Equal(t, 0, other)
}

func TestEmitClonesContextPerHandler(t *testing.T) {
	bus := NewBus(nil)
	var second rules.Context

	bus.Subscribe(SubscribeAll, func(_ context.Context, _ string, evctx rules.Context) {
		evctx["mutated"] = "yes"
	})
	bus.Subscribe(SubscribeAll, func(_ context.Context, _ string, evctx rules.Context) {
		second = evctx
	})

	original := rules.Context{rules.CtxIncidentID: "inc-1"}
	bus.Emit(context.Background(), "EVENT", original)

	require.NotNil(t, second)
	assert.Equal(t, "inc-1", second.Get(rules.CtxIncidentID))
	assert.Empty(t, second.Get("mutated"), "handlers get independent copies")
	assert.Empty(t, original.Get("mutated"))
}

func TestEmitRecoversHandlerPanic(t *testing.T) {
	bus := NewBus(log.New(os.Stderr, "", 0))
	var reached bool

	bus.Subscribe(SubscribeAll, func(context.Context, string, rules.Context) { panic("boom") })
	bus.Subscribe(SubscribeAll, func(context.Context, string, rules.Context) { reached = true })

	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), "EVENT", rules.Context{})
	})
	assert.True(t, reached, "panic in one handler does not stop the rest")
}

func TestEmitEmptyEventType(t *testing.T) {
	bus := NewBus(nil)
	var calls int
	bus.Subscribe(SubscribeAll, func(context.Context, string, rules.Context) { calls++ })

	bus.Emit(context.Background(), "", rules.Context{})
	assert.Zero(t, calls)
}

func TestSubscribeIgnoresNilHandler(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe("EVENT", nil)
	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), "EVENT", rules.Context{})
	})
}

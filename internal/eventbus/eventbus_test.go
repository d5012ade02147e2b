package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type blockImported struct{ Number uint64 }

type finalized struct{ Number uint64 }

func TestPublishByType(t *testing.T) {
	Use(New())
	defer Use(nil)

	var imported, final []uint64
	Subscribe(func(_ context.Context, e blockImported) { imported = append(imported, e.Number) })
	Subscribe(func(_ context.Context, e finalized) { final = append(final, e.Number) })

	Publish(context.Background(), blockImported{Number: 7})
	Publish(context.Background(), blockImported{Number: 8})
	Publish(context.Background(), finalized{Number: 6})

	require.Equal(t, []uint64{7, 8}, imported)
	require.Equal(t, []uint64{6}, final)
}

func TestUnsubscribeRemovesOnlyItsHandler(t *testing.T) {
	Use(New())
	defer Use(nil)

	var got []string
	subscribe := func(name string) func() {
		return Subscribe(func(context.Context, blockImported) { got = append(got, name) })
	}
	a := subscribe("a")
	subscribe("b")

	a()
	a()
	Publish(context.Background(), blockImported{})
	require.Equal(t, []string{"b"}, got)
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	Use(New())
	defer Use(nil)

	calls := 0
	var unsub func()
	unsub = Subscribe(func(context.Context, finalized) {
		calls++
		unsub()
	})
	Subscribe(func(context.Context, finalized) { calls++ })

	Publish(context.Background(), finalized{})
	Publish(context.Background(), finalized{})
	require.Equal(t, 3, calls)
}

func TestWithoutBus(t *testing.T) {
	Use(nil)
	called := false
	unsub := Subscribe(func(context.Context, finalized) { called = true })
	Publish(context.Background(), finalized{})
	unsub()
	require.False(t, called)
}

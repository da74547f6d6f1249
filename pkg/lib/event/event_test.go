package event

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_SubscribeRaise(t *testing.T) {
	var e Event[string]
	var got []string

	e.Subscribe(func(s string) { got = append(got, "a:"+s) })
	e.Subscribe(func(s string) { got = append(got, "b:"+s) })
	e.Raise("x")

	assert.Equal(t, []string{"a:x", "b:x"}, got)
	assert.Equal(t, 2, e.Count())
}

func TestEvent_Unsubscribe(t *testing.T) {
	var e Event[int]
	calls := 0
	token := e.Subscribe(func(int) { calls++ })

	assert.True(t, e.Unsubscribe(token))
	assert.False(t, e.Unsubscribe(token))

	e.Raise(1)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, e.Count())
}

func TestEvent_NilHandler(t *testing.T) {
	var e Event[int]
	assert.Equal(t, Token(0), e.Subscribe(nil))
	assert.Equal(t, Token(0), e.SubscribeAny(nil))
	assert.Equal(t, 0, e.Count())
}

func TestEvent_UnsubscribeDuringRaise(t *testing.T) {
	var e Event[int]
	var second Token
	secondCalls := 0

	e.Subscribe(func(int) { e.Unsubscribe(second) })
	second = e.Subscribe(func(int) { secondCalls++ })

	// 快照语义：本次仍然投递
	e.Raise(1)
	assert.Equal(t, 1, secondCalls)

	e.Raise(2)
	assert.Equal(t, 1, secondCalls)
}

func TestEvent_Untyped(t *testing.T) {
	var e Event[float64]
	var u Untyped = &e

	assert.Equal(t, reflect.TypeOf(float64(0)), u.ArgType())

	var got any
	token := u.SubscribeAny(func(v any) { got = v })
	e.Raise(1.5)
	assert.Equal(t, 1.5, got)
	assert.True(t, u.Unsubscribe(token))
}

func TestEvent_Concurrent(t *testing.T) {
	var e Event[int]
	var mu sync.Mutex
	total := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token := e.Subscribe(func(v int) {
				mu.Lock()
				total += v
				mu.Unlock()
			})
			e.Raise(1)
			e.Unsubscribe(token)
		}()
	}
	wg.Wait()

	require.Equal(t, 0, e.Count())
	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, total, 0)
}

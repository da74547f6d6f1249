package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSync_RunsInline(t *testing.T) {
	ran := false
	Sync{}.Invoke(func() { ran = true })
	assert.True(t, ran)
}

func TestConcurrent_Runs(t *testing.T) {
	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		Concurrent{}.Invoke(func() {
			defer wg.Done()
			n.Add(1)
		})
	}
	wg.Wait()
	assert.Equal(t, int32(10), n.Load())
}

func TestSerial_PreservesOrder(t *testing.T) {
	s := NewSerial()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	for i := 0; i < 100; i++ {
		i := i
		s.Invoke(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 99 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serial dispatcher did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSerial_PanicDoesNotStopQueue(t *testing.T) {
	s := NewSerial()
	done := make(chan struct{})

	s.Invoke(func() { panic("boom") })
	s.Invoke(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task after panic was not executed")
	}
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 10*time.Millisecond)
}

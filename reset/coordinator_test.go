package reset

import (
	"testing"
	"time"
)

func TestWaitUnblocksAfterReInit(t *testing.T) {
	c := New()
	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before ReInit posted the semaphore")
	case <-time.After(20 * time.Millisecond):
	}

	c.ReInit()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after ReInit")
	}
}

func TestInterruptedClosesOnReInit(t *testing.T) {
	c := New()
	first := c.Interrupted()
	select {
	case <-first:
		t.Fatal("Interrupted channel closed before any ReInit")
	default:
	}

	c.ReInit()

	select {
	case <-first:
	default:
		t.Fatal("previous Interrupted channel was not closed by ReInit")
	}

	second := c.Interrupted()
	select {
	case <-second:
		t.Fatal("fresh Interrupted channel is already closed")
	default:
	}
	c.Close()
}

func TestReInitOnlyPostsOnce(t *testing.T) {
	c := New()
	c.ReInit()
	c.Wait()

	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("second Wait returned without a second post")
	case <-time.After(20 * time.Millisecond):
	}
	c.Close()
}

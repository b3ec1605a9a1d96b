package queue

import (
	"sync"
	"testing"
)

func TestQueueFIFO(t *testing.T) {
	q := New[int]()
	if q.Len() != 0 {
		t.Fatal("new queue should be empty")
	}
	for i := 0; i < 3; i++ {
		q.Enqueue(i)
	}
	if q.Len() != 3 {
		t.Errorf("Len = %d, want 3", q.Len())
	}
	for i := 0; i < 3; i++ {
		v, ok := q.Dequeue()
		if !ok || v != i {
			t.Errorf("Dequeue = %d, %v; want %d", v, ok, i)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue on empty queue should report false")
	}
}

func TestQueueConcurrentEnqueue(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Enqueue(i)
			}
		}()
	}
	wg.Wait()
	if q.Len() != 800 {
		t.Errorf("Len = %d, want 800", q.Len())
	}
}

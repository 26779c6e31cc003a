package pipeline

import (
	"sync"
	"testing"
)

func TestBuffer_FIFO(t *testing.T) {
	b := NewBuffer[int]()
	for i := 1; i <= 3; i++ {
		b.Enqueue(i)
	}

	for want := 1; want <= 3; want++ {
		got, ok := b.TryDequeue()
		if !ok {
			t.Fatalf("Expected item %d, buffer empty", want)
		}
		if got != want {
			t.Errorf("Expected %d, got %d", want, got)
		}
	}

	if _, ok := b.TryDequeue(); ok {
		t.Error("Expected empty buffer")
	}
}

func TestBuffer_OnEnqueueFiresOncePerCall(t *testing.T) {
	b := NewBuffer[string]()
	var seen []string
	b.OnEnqueue(func(s string) {
		// Item is already queued when the hook runs
		if b.Len() == 0 {
			t.Error("Expected item to be queued before hook")
		}
		seen = append(seen, s)
	})

	b.Enqueue("a")
	b.Enqueue("b")

	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Errorf("Expected hook calls [a b], got %v", seen)
	}
}

func TestBuffer_ConcurrentProducersAndDrainers(t *testing.T) {
	const producers, perProducer, drainers = 8, 500, 4

	b := NewBuffer[int]()
	var (
		mu   sync.Mutex
		seen = make(map[int]int)
		wg   sync.WaitGroup
	)
	drain := func() {
		defer wg.Done()
		for {
			item, ok := b.TryDequeue()
			if !ok {
				return
			}
			mu.Lock()
			seen[item]++
			mu.Unlock()
		}
	}
	b.OnEnqueue(func(int) {
		wg.Add(1)
		go drain()
	})

	var pwg sync.WaitGroup
	for p := 0; p < producers; p++ {
		pwg.Add(1)
		go func(p int) {
			defer pwg.Done()
			for i := 0; i < perProducer; i++ {
				b.Enqueue(p*perProducer + i)
			}
		}(p)
	}
	pwg.Wait()

	for i := 0; i < drainers; i++ {
		wg.Add(1)
		go drain()
	}
	wg.Wait()

	if len(seen) != producers*perProducer {
		t.Fatalf("Expected %d distinct items, got %d", producers*perProducer, len(seen))
	}
	for item, n := range seen {
		if n != 1 {
			t.Errorf("Item %d dequeued %d times", item, n)
		}
	}
	if b.Len() != 0 {
		t.Errorf("Expected empty buffer, got %d items", b.Len())
	}
}

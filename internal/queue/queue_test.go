package queue

import (
	"sync"
	"testing"
)

func TestFrames(t *testing.T) {
	t.Parallel()

	var q Frames
	if q.Pop() != nil {
		t.Fatal("pop from empty queue")
	}

	buf := []byte{2, 0x18}
	q.Add(GetItem(1, 2, buf))
	buf[1] = 0x05 // item holds a copy
	q.Add(GetItem(3, 2, []byte{3, 0x05, 0}))

	if q.Len() != 2 {
		t.Fatal(q.Len())
	}

	i := q.Pop()
	if i.Src != 1 || i.Dst != 2 || string(i.P) != string([]byte{2, 0x18}) {
		t.Fatalf("%+v", i)
	}
	ReturnItem(i)

	i = q.Pop()
	if i.Src != 3 || len(i.P) != 3 {
		t.Fatalf("%+v", i)
	}
	ReturnItem(i)

	if q.Pop() != nil || q.Len() != 0 {
		t.Fatal("queue not empty")
	}

	// Reuse after draining.
	q.Add(GetItem(4, 2, []byte{2, 0x18}))
	if i = q.Pop(); i == nil || i.Src != 4 {
		t.Fatalf("%+v", i)
	}
}

func TestFramesLimit(t *testing.T) {
	t.Parallel()

	q := Frames{Limit: 2}
	for n := 0; n < 2; n++ {
		if !q.Add(GetItem(1, 2, []byte{byte(n)})) {
			t.Fatal(n)
		}
	}
	if q.Add(GetItem(1, 2, []byte{9})) {
		t.Fatal("added beyond limit")
	}

	if i := q.Pop(); i.P[0] != 0 {
		t.Fatal(i.P)
	}
	if !q.Add(GetItem(1, 2, []byte{2})) {
		t.Fatal("add after pop failed")
	}

	q.Reset()
	if q.Len() != 0 || q.Pop() != nil {
		t.Fatal("reset left items")
	}
}

func TestFramesConcurrent(t *testing.T) {
	t.Parallel()

	var q Frames
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				q.Add(GetItem(1, 2, []byte{byte(w), byte(n)}))
			}
		}(w)
	}
	wg.Wait()

	last := make(map[byte]int)
	got := 0
	for i := q.Pop(); i != nil; i = q.Pop() {
		w, n := i.P[0], int(i.P[1])
		if prev, ok := last[w]; ok && n != prev+1 {
			t.Fatalf("worker %d: %d after %d", w, n, prev)
		}
		last[w] = n
		got++
		ReturnItem(i)
	}
	if got != 400 {
		t.Fatal(got)
	}
}

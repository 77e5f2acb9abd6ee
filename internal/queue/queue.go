package queue

import "sync"

// Frames is a FIFO of received packets, like the RX FIFO of a radio.
// When Limit is reached new packets are dropped.
type Frames struct {
	h, t  *Item
	n     int
	Limit int
	sync.Mutex
}

// Add appends i and reports whether it was accepted.
// A rejected item is returned to the pool.
func (q *Frames) Add(i *Item) bool {
	q.Lock()
	if q.Limit > 0 && q.n >= q.Limit {
		q.Unlock()
		ReturnItem(i)
		return false
	}

	if q.h == nil {
		q.h = i
		q.t = i
	} else {
		q.t.next = i
		q.t = i
	}
	q.n++
	q.Unlock()
	return true
}

// Pop removes and returns the oldest item, or nil if empty.
func (q *Frames) Pop() *Item {
	q.Lock()
	i := q.h
	if i != nil {
		q.h = i.next
		if q.h == nil {
			q.t = nil
		}
		i.next = nil // avoid memory leakage
		q.n--
	}
	q.Unlock()
	return i
}

func (q *Frames) Len() int {
	q.Lock()
	n := q.n
	q.Unlock()
	return n
}

// Reset drops everything queued.
func (q *Frames) Reset() {
	q.Lock()
	for i := q.h; i != nil; {
		next := i.next
		ReturnItem(i)
		i = next
	}
	q.h, q.t, q.n = nil, nil, 0
	q.Unlock()
}

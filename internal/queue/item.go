package queue

import (
	"sync"

	"github.com/RoanBrand/mqttsn/internal/model"
)

// Item is a packet received from the radio network.
type Item struct {
	Src model.NodeID
	Dst model.NodeID
	P   []byte

	next *Item
}

var pool = sync.Pool{}

// GetItem returns an Item holding a copy of p.
func GetItem(src, dst model.NodeID, p []byte) (i *Item) {
	if pi := pool.Get(); pi == nil {
		i = &Item{P: make([]byte, 0, model.PayloadCapacity)}
	} else {
		i = pi.(*Item)
	}

	i.Src, i.Dst = src, dst
	i.P = append(i.P[:0], p...)
	return i
}

func ReturnItem(i *Item) {
	i.next = nil
	i.P = i.P[:0]
	pool.Put(i)
}

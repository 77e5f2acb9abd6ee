package mqttsn

// Topic is a topic name registered with the gateway under a short ID.
type Topic struct {
	ID   uint16
	Name string
}

// topicTable is a fixed size ID <-> name table. ID 0 is never stored since it
// means "not registered yet". There is no removal; the table only grows.
type topicTable struct {
	n      int
	topics [MaxTopics]Topic
}

// Add stores the topic. It returns false, leaving the table untouched,
// if id is 0 or already present, or if the table is full.
func (tt *topicTable) Add(id uint16, name string) bool {
	if id == 0 || tt.n == len(tt.topics) {
		return false
	}
	if _, ok := tt.FindID(id); ok {
		return false
	}

	tt.topics[tt.n] = Topic{ID: id, Name: name}
	tt.n++
	return true
}

func (tt *topicTable) FindName(name string) (Topic, bool) {
	for _, t := range tt.topics[:tt.n] {
		if t.Name == name {
			return t, true
		}
	}
	return Topic{}, false
}

func (tt *topicTable) FindID(id uint16) (Topic, bool) {
	for _, t := range tt.topics[:tt.n] {
		if t.ID == id {
			return t, true
		}
	}
	return Topic{}, false
}

func (tt *topicTable) Len() int {
	return tt.n
}

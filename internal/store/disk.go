// Package store keeps a journal of messages received by the client on disk.
package store

import (
	"encoding/binary"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"
)

var (
	seqKey    = []byte("seq")
	pubPrefix = []byte("pub")
)

// Entry is a journaled PUBLISH.
type Entry struct {
	Seq     uint64
	At      time.Time
	Topic   string
	Payload string
}

type Journal struct {
	db *badger.DB
}

func Open(dir string) (*Journal, error) {
	opts := badger.DefaultOptions
	opts.Dir, opts.ValueDir = dir, dir
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}

	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func pubKey(seq uint64) []byte {
	key := make([]byte, 0, len(pubPrefix)+8)
	key = append(key, pubPrefix...)
	return binary.BigEndian.AppendUint64(key, seq)
}

// Append stores a received message and returns its sequence number.
// Sequence numbers start at 1 and keep increasing across restarts.
func (j *Journal) Append(topic, payload string, at time.Time) (uint64, error) {
	var seq uint64
	err := j.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(seqKey)
		if err != nil {
			if err != badger.ErrKeyNotFound {
				return err
			}
		} else {
			val, err := item.Value()
			if err != nil {
				return err
			}
			seq = binary.BigEndian.Uint64(val)
		}
		seq++

		if err = txn.Set(seqKey, binary.BigEndian.AppendUint64(nil, seq)); err != nil {
			return err
		}

		val := make([]byte, 0, 9+len(topic)+len(payload))
		val = binary.BigEndian.AppendUint64(val, uint64(at.UnixNano()))
		val = append(val, byte(len(topic)))
		val = append(val, topic...)
		val = append(val, payload...)

		return txn.Set(pubKey(seq), val)
	})

	return seq, errors.Wrap(err, "append to journal")
}

// Load calls iter for every entry in order, starting after sequence number from.
// It stops at the first error returned by iter.
func (j *Journal) Load(from uint64, iter func(e Entry) error) error {
	return j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(pubKey(from + 1)); it.ValidForPrefix(pubPrefix); it.Next() {
			item := it.Item()
			k := item.Key()
			val, err := item.Value()
			if err != nil {
				return err
			}

			e, err := decodeEntry(k, val)
			if err != nil {
				return err
			}
			if err = iter(e); err != nil {
				return err
			}
		}
		return nil
	})
}

func decodeEntry(k, val []byte) (Entry, error) {
	if len(k) != len(pubPrefix)+8 || len(val) < 9 || len(val) < 9+int(val[8]) {
		return Entry{}, errors.Errorf("corrupt journal entry %x", k)
	}

	topicL := int(val[8])
	return Entry{
		Seq:     binary.BigEndian.Uint64(k[len(pubPrefix):]),
		At:      time.Unix(0, int64(binary.BigEndian.Uint64(val))),
		Topic:   string(val[9 : 9+topicL]),
		Payload: string(val[9+topicL:]),
	}, nil
}

// Prune removes entries up to and including sequence number upto.
func (j *Journal) Prune(upto uint64) (int, error) {
	var keys [][]byte
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		end := pubKey(upto)
		for it.Seek(pubPrefix); it.ValidForPrefix(pubPrefix); it.Next() {
			k := append([]byte(nil), it.Item().Key()...)
			if string(k) > string(end) {
				break
			}
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	txn := j.db.NewTransaction(true)
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			if err == badger.ErrTxnTooBig {
				if err = txn.Commit(nil); err != nil {
					txn.Discard()
					return 0, err
				}
				txn = j.db.NewTransaction(true)
				if err = txn.Delete(k); err != nil {
					txn.Discard()
					return 0, err
				}
			} else {
				txn.Discard()
				return 0, err
			}
		}
	}

	return len(keys), txn.Commit(nil)
}

package logstore

import (
	"bytes"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var logBucket = []byte("soil_log")

// Bolt stores one CSV-formatted row per key. Key 0 holds the header, rows
// use the bucket sequence so iteration order is insertion order.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path, valueColumn string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt log: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(logBucket)
		if err != nil {
			return err
		}
		if b.Get(itob(0)) != nil {
			return nil
		}
		line, err := csvLine(Header(valueColumn))
		if err != nil {
			return err
		}
		return b.Put(itob(0), line)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt log: %w", err)
	}

	return &Bolt{db: db}, nil
}

func (s *Bolt) Append(r Record) error {
	line, err := csvLine(r.Fields())
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket)
		if b == nil {
			return bolt.ErrBucketNotFound
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), line)
	})
}

// Lines returns every stored row, header first.
func (s *Bolt) Lines() ([]string, error) {
	var lines []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket)
		if b == nil {
			return bolt.ErrBucketNotFound
		}
		return b.ForEach(func(_, v []byte) error {
			lines = append(lines, strings.TrimRight(string(v), "\n"))
			return nil
		})
	})
	return lines, err
}

func (s *Bolt) Close() error {
	return s.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func csvLine(fields []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package locator

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketName  = []byte("locator")
	fragmentKey = []byte("fragment")
)

// Bolt persists the fragment in a bbolt file so a terminal participant can
// rejoin its room after a restart.
type Bolt struct {
	db *bolt.DB
}

func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open locator %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init locator %s: %w", path, err)
	}
	return &Bolt{db: db}, nil
}

func (l *Bolt) Fragment() (string, error) {
	var fragment string
	err := l.db.View(func(tx *bolt.Tx) error {
		fragment = string(tx.Bucket(bucketName).Get(fragmentKey))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("read fragment: %w", err)
	}
	return fragment, nil
}

func (l *Bolt) SetFragment(fragment string) error {
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if fragment == "" {
			return b.Delete(fragmentKey)
		}
		return b.Put(fragmentKey, []byte(fragment))
	})
	if err != nil {
		return fmt.Errorf("write fragment: %w", err)
	}
	return nil
}

func (l *Bolt) Close() error {
	return l.db.Close()
}

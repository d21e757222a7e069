package bill

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const imageBucketName = "images"

// BoltStorage implements ImageStore using BoltDB
type BoltStorage struct {
	db *bbolt.DB
}

// NewBoltStorage opens (or creates) a BoltDB file for bill images
func NewBoltStorage(path string) (*BoltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(imageBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStorage{db: db}, nil
}

// Save stores an image under key
func (b *BoltStorage) Save(key string, data []byte) (string, error) {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(imageBucketName)).Put([]byte(key), data)
	})
	if err != nil {
		return "", fmt.Errorf("saving image: %w", err)
	}
	return key, nil
}

// Get retrieves an image by reference
func (b *BoltStorage) Get(ref string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(imageBucketName)).Get([]byte(ref))
		if v == nil {
			return fmt.Errorf("image not found: %s", ref)
		}
		// bolt values are only valid for the life of the transaction
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes an image. Deleting a missing key is not an error.
func (b *BoltStorage) Delete(ref string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(imageBucketName)).Delete([]byte(ref))
	})
}

// Count returns the number of stored images
func (b *BoltStorage) Count() (int, error) {
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(imageBucketName)).Stats().KeyN
		return nil
	})
	return n, err
}

// Purge removes every stored image
func (b *BoltStorage) Purge() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(imageBucketName)); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket([]byte(imageBucketName))
		return err
	})
}

// Close closes the database
func (b *BoltStorage) Close() error {
	return b.db.Close()
}

package certificate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "certificates"

// ErrNotFound is returned when no certificate has the requested ID
var ErrNotFound = errors.New("certificate not found")

// DB defines the interface for certificate persistence
type DB interface {
	// SaveCertificate inserts or replaces a certificate
	SaveCertificate(cert *Certificate) error

	// GetCertificate retrieves a certificate by ID
	GetCertificate(id string) (*Certificate, error)

	// ListCertificates returns all certificates, newest first
	ListCertificates() ([]*Certificate, error)

	// DeleteCertificate removes a certificate
	DeleteCertificate(id string) error

	Close() error
}

// BoltDB implements DB on a single bbolt file
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) the database at path
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) SaveCertificate(cert *Certificate) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(cert)
		if err != nil {
			return fmt.Errorf("marshaling certificate: %w", err)
		}
		return tx.Bucket([]byte(bucketName)).Put([]byte(cert.ID), data)
	})
}

func (b *BoltDB) GetCertificate(id string) (*Certificate, error) {
	var cert *Certificate
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &cert)
	})
	if err != nil {
		return nil, err
	}
	return cert, nil
}

func (b *BoltDB) ListCertificates() ([]*Certificate, error) {
	certs := make([]*Certificate, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
			var cert Certificate
			if err := json.Unmarshal(v, &cert); err != nil {
				return fmt.Errorf("unmarshaling certificate %s: %w", k, err)
			}
			certs = append(certs, &cert)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(certs)
	return certs, nil
}

func (b *BoltDB) DeleteCertificate(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

func sortNewestFirst(certs []*Certificate) {
	sort.SliceStable(certs, func(i, j int) bool {
		if certs[i].CreatedAt.Equal(certs[j].CreatedAt) {
			return certs[i].ID > certs[j].ID
		}
		return certs[i].CreatedAt.After(certs[j].CreatedAt)
	})
}

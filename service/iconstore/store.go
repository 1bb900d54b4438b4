package iconstore

import (
	"bytes"
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gofrs/uuid"
	"go.etcd.io/bbolt"

	"github.com/safing/winicon/ico"
	"github.com/safing/winicon/service/mgr"
)

// Errors returned by the icon store.
var (
	ErrNotFound = errors.New("icon not found")
	ErrTooBig   = errors.New("icon container too big")
	ErrNoImages = errors.New("container has no decodable image resources")
)

// maxContainerSize is the maximum accepted size of a raw icon container.
const maxContainerSize = 4 << 20

// Put validates and stores an icon container and returns its metadata
// record. Containers without a single decodable image resource are
// rejected.
func (s *IconStore) Put(data []byte, name, source string) (*IconRecord, error) {
	if len(data) > maxContainerSize {
		return nil, ErrTooBig
	}

	// Only store containers with at least one usable image.
	directory, err := ico.DecodeAll(bytes.NewReader(data))
	if err != nil {
		decodeFailTotal.Inc()
		return nil, fmt.Errorf("invalid icon container: %w", err)
	}
	best := directory.Best()
	if best == nil {
		decodeFailTotal.Inc()
		if decodeErrs := directory.DecodeErrors(); decodeErrs != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoImages, decodeErrs)
		}
		return nil, ErrNoImages
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("failed to generate icon id: %w", err)
	}

	if name == "" {
		name = "Unnamed " + directory.Type().String()
	}

	// Calculate sha1 sum of the container.
	h := sha1.New()
	if _, err := h.Write(data); err != nil {
		return nil, err
	}

	usable := 0
	for _, e := range directory.Entries() {
		if e.Image() != nil {
			usable++
		}
	}

	bounds := best.Bounds()
	rec := &IconRecord{
		ID:        id.String(),
		Name:      name,
		Type:      directory.Type().String(),
		Resources: usable,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Size:      len(data),
		Sum:       hex.EncodeToString(h.Sum(nil)),
		Source:    source,
		Added:     time.Now().UTC(),
	}

	metaData, err := rec.marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize icon metadata: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketIcons).Put([]byte(rec.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte(rec.ID), metaData)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store icon: %w", err)
	}

	_ = s.cache.Set(rec.ID, data)
	s.entryCount.Add(1)
	putTotal.Inc()
	s.EventIconAdded.Submit(rec.ID)

	return rec, nil
}

// Get returns the raw container bytes of the icon with the given ID.
func (s *IconStore) Get(id string) ([]byte, error) {
	getTotal.Inc()

	// Check cache.
	if cached, err := s.cache.GetIFPresent(id); err == nil {
		if data, ok := cached.([]byte); ok {
			return data, nil
		}
	}

	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(bucketIcons).Get([]byte(id))
		if value == nil {
			return ErrNotFound
		}

		// Copy data, as the value is only valid within the transaction.
		data = make([]byte, len(value))
		copy(data, value)
		return nil
	})
	if err != nil {
		return nil, err
	}

	_ = s.cache.Set(id, data)
	return data, nil
}

// GetMeta returns the metadata record of the icon with the given ID.
func (s *IconStore) GetMeta(id string) (*IconRecord, error) {
	var rec *IconRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(bucketMeta).Get([]byte(id))
		if value == nil {
			return ErrNotFound
		}

		var txErr error
		rec, txErr = loadRecord(value)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetDecoded returns the decoded directory of the icon with the given ID.
func (s *IconStore) GetDecoded(id string) (*ico.Directory, error) {
	data, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	directory, err := ico.DecodeAll(bytes.NewReader(data))
	if err != nil {
		decodeFailTotal.Inc()
		return nil, fmt.Errorf("stored container failed to decode: %w", err)
	}
	return directory, nil
}

// Delete removes the icon with the given ID from the store.
func (s *IconStore) Delete(id string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketMeta).Get([]byte(id)) == nil {
			return ErrNotFound
		}

		if err := tx.Bucket(bucketIcons).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Delete([]byte(id))
	})
	if err != nil {
		return err
	}

	s.cache.Remove(id)
	s.entryCount.Add(-1)
	s.EventIconDeleted.Submit(id)
	return nil
}

// List returns the metadata records of all stored icons, ordered by the
// time they were added.
func (s *IconStore) List() ([]*IconRecord, error) {
	var records []*IconRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketMeta).Cursor()
		for key, value := c.First(); key != nil; key, value = c.Next() {
			rec, err := loadRecord(value)
			if err != nil {
				return fmt.Errorf("corrupt metadata record %s: %w", string(key), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(records, func(a, b *IconRecord) int {
		switch {
		case a.Added.Before(b.Added):
			return -1
		case a.Added.After(b.Added):
			return 1
		default:
			return bytes.Compare([]byte(a.ID), []byte(b.ID))
		}
	})
	return records, nil
}

// maintain removes dangling database entries that are missing either their
// raw data or their metadata record.
func (s *IconStore) maintain(w *mgr.WorkerCtx) error {
	var danglingData, danglingMeta [][]byte

	err := s.db.Update(func(tx *bbolt.Tx) error {
		iconsBucket := tx.Bucket(bucketIcons)
		metaBucket := tx.Bucket(bucketMeta)

		// Raw data without a metadata record is unreachable.
		c := iconsBucket.Cursor()
		for key, _ := c.First(); key != nil; key, _ = c.Next() {
			if metaBucket.Get(key) == nil {
				danglingData = append(danglingData, bytes.Clone(key))
			}
		}

		// Metadata without raw data cannot be served.
		c = metaBucket.Cursor()
		for key, _ := c.First(); key != nil; key, _ = c.Next() {
			if iconsBucket.Get(key) == nil {
				danglingMeta = append(danglingMeta, bytes.Clone(key))
			}
		}

		for _, key := range danglingData {
			if err := iconsBucket.Delete(key); err != nil {
				return err
			}
		}
		for _, key := range danglingMeta {
			if err := metaBucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage maintenance failed: %w", err)
	}

	s.entryCount.Store(s.countEntries())
	if len(danglingData) > 0 || len(danglingMeta) > 0 {
		w.Info(
			"removed dangling database entries",
			"danglingData", len(danglingData),
			"danglingMeta", len(danglingMeta),
		)
	}
	return nil
}

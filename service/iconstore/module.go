// Package iconstore persists icon containers and their metadata.
package iconstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/bluele/gcache"
	"go.etcd.io/bbolt"

	"github.com/safing/winicon/icons"
	"github.com/safing/winicon/service/mgr"
)

const (
	databaseFilename = "icons.db"

	cacheSize = 64
	cacheTTL  = 10 * time.Minute

	maintenanceInterval = 1 * time.Hour
)

// Bucket names of the icon database.
var (
	bucketIcons = []byte("icons")
	bucketMeta  = []byte("meta")
)

// IconStore stores icon containers in a local database.
type IconStore struct {
	mgr      *mgr.Manager
	instance instance

	db    *bbolt.DB
	cache gcache.Cache

	entryCount        atomic.Int64
	maintenanceWorker *mgr.WorkerMgr

	// EventIconAdded is submitted the ID of every newly stored icon.
	EventIconAdded *mgr.EventMgr[string]
	// EventIconDeleted is submitted the ID of every deleted icon.
	EventIconDeleted *mgr.EventMgr[string]
}

// Manager returns the module manager.
func (s *IconStore) Manager() *mgr.Manager {
	return s.mgr
}

// Start starts the module.
func (s *IconStore) Start() error {
	if err := s.openDatabase(); err != nil {
		return err
	}

	if err := s.registerMetrics(); err != nil {
		return err
	}

	// Set up the file based icon storage next to the database.
	if icons.IconStoragePath == "" {
		iconsDir, err := filepath.Abs(filepath.Join(s.instance.DataDir(), "icons"))
		if err != nil {
			return fmt.Errorf("failed to resolve icons directory: %w", err)
		}
		if err := os.MkdirAll(iconsDir, 0o0700); err != nil {
			return fmt.Errorf("failed to create icons directory: %w", err)
		}
		icons.IconStoragePath = iconsDir
	}

	// Make stored icons resolvable as data URLs.
	icons.SetStoreResolver(s.Get)

	s.maintenanceWorker = s.mgr.Repeat("storage maintenance", maintenanceInterval, s.maintain)

	return nil
}

// TriggerMaintenance requests an out of schedule maintenance run.
func (s *IconStore) TriggerMaintenance() {
	if s.maintenanceWorker != nil {
		s.maintenanceWorker.Go()
	}
}

// Count returns the number of stored icons.
func (s *IconStore) Count() int64 {
	return s.entryCount.Load()
}

// Stop stops the module.
func (s *IconStore) Stop() error {
	icons.SetStoreResolver(nil)
	s.cache.Purge()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close icon database: %w", err)
		}
		s.db = nil
	}
	return nil
}

func (s *IconStore) openDatabase() error {
	dbFile := filepath.Join(s.instance.DataDir(), databaseFilename)
	dbOptions := &bbolt.Options{
		Timeout: 1 * time.Second,
	}

	// Open/Create database, retry if there is a timeout.
	db, err := bbolt.Open(dbFile, 0o0600, dbOptions)
	for i := 0; i < 5 && err != nil; i++ {
		// Try again if there is an error.
		db, err = bbolt.Open(dbFile, 0o0600, dbOptions)
	}
	if err != nil {
		return fmt.Errorf("failed to open icon database: %w", err)
	}

	// Create buckets.
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketIcons); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create icon database buckets: %w", err)
	}

	s.db = db
	s.entryCount.Store(s.countEntries())
	return nil
}

func (s *IconStore) countEntries() int64 {
	var count int64
	if s.db == nil {
		return 0
	}
	_ = s.db.View(func(tx *bbolt.Tx) error {
		count = int64(tx.Bucket(bucketMeta).Stats().KeyN)
		return nil
	})
	return count
}

var (
	module     *IconStore
	shimLoaded atomic.Bool
)

// New returns a new icon store module.
func New(instance instance) (*IconStore, error) {
	if !shimLoaded.CompareAndSwap(false, true) {
		return nil, errors.New("only one instance allowed")
	}
	m := mgr.New("IconStore")
	module = &IconStore{
		mgr:      m,
		instance: instance,
		cache:    gcache.New(cacheSize).LRU().Expiration(cacheTTL).Build(),
	}
	module.EventIconAdded = mgr.NewEventMgr[string]("icon added", m)
	module.EventIconDeleted = mgr.NewEventMgr[string]("icon deleted", m)

	return module, nil
}

type instance interface {
	DataDir() string
}

// Package iconapi provides the HTTP API of the icon service.
package iconapi

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/safing/winicon/service/iconstore"
	"github.com/safing/winicon/service/mgr"
)

// IconAPI is the HTTP API module of the icon service.
type IconAPI struct {
	mgr      *mgr.Manager
	instance instance

	started time.Time
}

// Manager returns the module manager.
func (api *IconAPI) Manager() *mgr.Manager {
	return api.mgr
}

// Start starts the module.
func (api *IconAPI) Start() error {
	api.started = time.Now()

	// Log icon store changes.
	api.instance.IconStore().EventIconAdded.AddCallback("log stored icons",
		func(wc *mgr.WorkerCtx, id string) (bool, error) {
			wc.Debug("icon stored", "id", id)
			return false, nil
		})
	api.instance.IconStore().EventIconDeleted.AddCallback("log deleted icons",
		func(wc *mgr.WorkerCtx, id string) (bool, error) {
			wc.Debug("icon deleted", "id", id)
			return false, nil
		})

	startServer()
	return nil
}

// Stop stops the module.
func (api *IconAPI) Stop() error {
	return stopServer()
}

var (
	module     *IconAPI
	shimLoaded atomic.Bool
)

// New returns a new IconAPI module.
func New(instance instance) (*IconAPI, error) {
	if !shimLoaded.CompareAndSwap(false, true) {
		return nil, errors.New("only one instance allowed")
	}

	module = &IconAPI{
		mgr:      mgr.New("IconAPI"),
		instance: instance,
	}

	if err := registerIconEndpoints(); err != nil {
		return nil, err
	}
	if err := registerStorageEndpoints(); err != nil {
		return nil, err
	}
	if err := registerMetricsAPI(); err != nil {
		return nil, err
	}
	if err := registerMetaEndpoints(); err != nil {
		return nil, err
	}

	return module, nil
}

type instance interface {
	IconStore() *iconstore.IconStore
	ListenAddr() string
}

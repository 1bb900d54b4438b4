package iconstore

import (
	"github.com/tevino/abool"

	"github.com/safing/winicon/base/metrics"
)

var (
	putTotal        *metrics.Counter
	getTotal        *metrics.Counter
	decodeFailTotal *metrics.Counter

	metricsRegistered = abool.New()
)

func (s *IconStore) registerMetrics() (err error) {
	// Only register metrics once.
	if !metricsRegistered.SetToIf(false, true) {
		return nil
	}

	putTotal, err = metrics.NewCounter(
		"store/put/total",
		nil,
		&metrics.Options{
			Name: "Icon Store Puts",
		},
	)
	if err != nil {
		return err
	}

	getTotal, err = metrics.NewCounter(
		"store/get/total",
		nil,
		&metrics.Options{
			Name: "Icon Store Gets",
		},
	)
	if err != nil {
		return err
	}

	decodeFailTotal, err = metrics.NewCounter(
		"store/decode/fail/total",
		nil,
		&metrics.Options{
			Name: "Icon Store Decode Failures",
		},
	)
	if err != nil {
		return err
	}

	_, err = metrics.NewGauge(
		"store/entries",
		nil,
		func() float64 {
			return float64(s.entryCount.Load())
		},
		&metrics.Options{
			Name: "Icon Store Entries",
		},
	)
	return err
}

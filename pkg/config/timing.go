// Package config loads the timing knobs and placement descriptors that
// parameterize the upload/download stack, grounded on the teacher's
// pkg/od EDS parser (gopkg.in/ini.v1, one Load call, typed fields read
// back out of named keys) for the timing file, and a plain JSON decoder
// for the placements file.
package config

import (
	"time"

	"gopkg.in/ini.v1"
)

// Timing bundles every board-model-dependent knob that must be a
// configuration value rather than a baked-in constant (spec.md §9's
// open question on THROTTLE_NS varying across board-model revisions).
type Timing struct {
	ThrottleNS             uint32
	SDOInTimeout           time.Duration
	SDOInRetryLimit        int
	SDOOutTimeout          time.Duration
	SDOOutRetryLimit       int
	SmallWriteThreshold    uint32
	SmallRetrieveThreshold uint32
	ParallelSize           int
	DelayPerSend           time.Duration
}

// DefaultTiming matches the nominal values named throughout spec.md.
var DefaultTiming = Timing{
	ThrottleNS:             40_000,
	SDOInTimeout:           2 * time.Second,
	SDOInRetryLimit:        100,
	SDOOutTimeout:          2 * time.Second,
	SDOOutRetryLimit:       20,
	SmallWriteThreshold:    256,
	SmallRetrieveThreshold: 256,
	ParallelSize:           4,
	DelayPerSend:           10 * time.Millisecond,
}

// LoadTiming reads the [timing] section of an ini file at path, falling
// back to DefaultTiming for any key that is absent.
func LoadTiming(path string) (Timing, error) {
	t := DefaultTiming
	cfg, err := ini.Load(path)
	if err != nil {
		return Timing{}, err
	}
	section := cfg.Section("timing")

	if k := section.Key("throttle_ns"); k.String() != "" {
		v, err := k.Uint()
		if err != nil {
			return Timing{}, err
		}
		t.ThrottleNS = uint32(v)
	}
	if k := section.Key("sdo_in_timeout_ms"); k.String() != "" {
		v, err := k.Uint()
		if err != nil {
			return Timing{}, err
		}
		t.SDOInTimeout = time.Duration(v) * time.Millisecond
	}
	if k := section.Key("sdo_in_retry_limit"); k.String() != "" {
		v, err := k.Int()
		if err != nil {
			return Timing{}, err
		}
		t.SDOInRetryLimit = v
	}
	if k := section.Key("sdo_out_timeout_ms"); k.String() != "" {
		v, err := k.Uint()
		if err != nil {
			return Timing{}, err
		}
		t.SDOOutTimeout = time.Duration(v) * time.Millisecond
	}
	if k := section.Key("sdo_out_retry_limit"); k.String() != "" {
		v, err := k.Int()
		if err != nil {
			return Timing{}, err
		}
		t.SDOOutRetryLimit = v
	}
	if k := section.Key("small_write_threshold"); k.String() != "" {
		v, err := k.Uint()
		if err != nil {
			return Timing{}, err
		}
		t.SmallWriteThreshold = uint32(v)
	}
	if k := section.Key("small_retrieve_threshold"); k.String() != "" {
		v, err := k.Uint()
		if err != nil {
			return Timing{}, err
		}
		t.SmallRetrieveThreshold = uint32(v)
	}
	if k := section.Key("parallel_size"); k.String() != "" {
		v, err := k.Int()
		if err != nil {
			return Timing{}, err
		}
		t.ParallelSize = v
	}
	if k := section.Key("delay_per_send_ms"); k.String() != "" {
		v, err := k.Uint()
		if err != nil {
			return Timing{}, err
		}
		t.DelayPerSend = time.Duration(v) * time.Millisecond
	}
	return t, nil
}

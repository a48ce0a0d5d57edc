package metrics

import (
	"sync/atomic"

	"bookflow/config"
)

// Feature identifies an optional metric family that can be switched off.
type Feature string

// FeatureChannelSize gates the periodic channel occupancy metrics.
const FeatureChannelSize Feature = "channel_size"

var featureFlags atomic.Pointer[map[Feature]bool]

// Configure applies the metric feature switches from configuration. Features
// default to enabled until Configure is called.
func Configure(cfg config.MetricsConfig) {
	flags := map[Feature]bool{
		FeatureChannelSize: cfg.ChannelSize,
	}
	featureFlags.Store(&flags)
}

// IsFeatureEnabled reports whether the given metric feature is switched on.
func IsFeatureEnabled(feature Feature) bool {
	flags := featureFlags.Load()
	if flags == nil {
		return true
	}

	enabled, ok := (*flags)[feature]
	if !ok {
		return true
	}
	return enabled
}

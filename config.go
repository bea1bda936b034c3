package mdns

import "time"

// Config holds the tunables a Querier is constructed with. It mirrors the
// discovery/common/config.h defaults from the original engine, narrowed to
// the querying side of that config - this module does not publish records,
// so the announcement/publication fields have no equivalent here.
type Config struct {
	// EnableQuerying gates whether StartQuery actually sends questions
	// onto the wire; false lets a Querier serve purely as a local cache
	// view over records injected via OnMessageReceived in tests.
	EnableQuerying bool

	// MaxRecordsCached is the soft cap on record trackers (shared and
	// unique) held at once. When exceeded, victims are chosen by
	// evictIfNeeded's priority order (expired NSEC, then NSEC with the most
	// remaining TTL, then the least recently referenced positive record)
	// and each eviction is counted through the observability hook.
	MaxRecordsCached int

	// KnownAnswerSuppression gates whether outgoing queries list cached
	// answers that are not close to expiry, so responders can omit them
	// (RFC 6762 §7.1).
	KnownAnswerSuppression bool

	// MaxKnownAnswerRecordsPerQuery caps how many known answers are
	// listed in a single outgoing query; answers beyond the cap are left
	// out, not sent in a further message.
	MaxKnownAnswerRecordsPerQuery int

	// MetricsNamespace scopes this Querier's expvar counters, letting
	// multiple Queriers in one process avoid colliding on the same vars.
	MetricsNamespace string
}

// Option mutates a Config being built by NewQuerier.
type Option func(*Config)

// WithMaxRecordsCached overrides the soft cache cap.
func WithMaxRecordsCached(n int) Option {
	return func(c *Config) { c.MaxRecordsCached = n }
}

// WithKnownAnswerSuppression toggles known-answer suppression.
func WithKnownAnswerSuppression(enabled bool) Option {
	return func(c *Config) { c.KnownAnswerSuppression = enabled }
}

// WithMetricsNamespace overrides the expvar namespace this Querier's
// counters are registered under.
func WithMetricsNamespace(ns string) Option {
	return func(c *Config) { c.MetricsNamespace = ns }
}

// WithEnableQuerying toggles whether StartQuery sends questions on the
// wire.
func WithEnableQuerying(enabled bool) Option {
	return func(c *Config) { c.EnableQuerying = enabled }
}

func defaultConfig() Config {
	return Config{
		EnableQuerying:                true,
		MaxRecordsCached:              1024,
		KnownAnswerSuppression:        true,
		MaxKnownAnswerRecordsPerQuery: 256,
		MetricsNamespace:              "querier",
	}
}

// defaultRandomDelay mirrors the jitter rand.Int63n idiom used throughout
// the teacher's rate limiting code, scoped to [min, max).
func defaultRandomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(pseudoJitter(int64(max-min)))
}

// Package provconf is the uniform configuration surface for provider
// adapters. Resolution order is always: explicit connection option, then
// environment variable, then default. Required keys that resolve to nothing
// fail with an unauthorized error naming the expected variable.
package provconf

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tetherkit/tether/pkg/errmodel"
)

var env = newEnv()

func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Resolve returns the value for key, preferring the explicit options map and
// falling back to the named environment variable. A missing required key
// yields an unauthorized error that names the variable.
func Resolve(key string, options map[string]string, envVar string) (string, error) {
	if v, ok := options[key]; ok && v != "" {
		return v, nil
	}
	if v := env.GetString(envVar); v != "" {
		return v, nil
	}
	return "", errmodel.Unauthorized("missing configuration: set " + envVar + " or provide the " + key + " option")
}

// ResolveOptional is like Resolve but never fails.
func ResolveOptional(key string, options map[string]string, envVar string) (string, bool) {
	if v, ok := options[key]; ok && v != "" {
		return v, true
	}
	if v := env.GetString(envVar); v != "" {
		return v, true
	}
	return "", false
}

// ResolveDefault is like ResolveOptional with a fallback value.
func ResolveDefault(key string, options map[string]string, envVar, def string) string {
	if v, ok := ResolveOptional(key, options, envVar); ok {
		return v
	}
	return def
}

// RetryPolicy carries the numeric retry and timeout settings adapters read
// from the configuration surface. The durable core applies no retries
// itself.
type RetryPolicy struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	RequestTimeout time.Duration
}

// DefaultRetryPolicy returns the documented defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		RequestTimeout: 30 * time.Second,
	}
}

// PolicyFor reads the retry policy for an adapter. prefix is the adapter's
// environment prefix, e.g. "QDRANT" reads QDRANT_MAX_RETRIES,
// QDRANT_INITIAL_DELAY_MS, QDRANT_MAX_DELAY_MS, QDRANT_BACKOFF_MULTIPLIER
// and QDRANT_TIMEOUT (seconds). Explicit options use the same lower-cased
// keys (max_retries, initial_delay_ms, max_delay_ms, backoff_multiplier,
// timeout).
func PolicyFor(prefix string, options map[string]string) RetryPolicy {
	p := DefaultRetryPolicy()
	v := viper.New()
	v.SetDefault("max_retries", p.MaxRetries)
	v.SetDefault("initial_delay_ms", int(p.InitialDelay/time.Millisecond))
	v.SetDefault("max_delay_ms", int(p.MaxDelay/time.Millisecond))
	v.SetDefault("backoff_multiplier", p.Multiplier)
	v.SetDefault("timeout", int(p.RequestTimeout/time.Second))
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for k, val := range options {
		v.Set(k, val)
	}
	p.MaxRetries = v.GetInt("max_retries")
	p.InitialDelay = time.Duration(v.GetInt("initial_delay_ms")) * time.Millisecond
	p.MaxDelay = time.Duration(v.GetInt("max_delay_ms")) * time.Millisecond
	p.Multiplier = v.GetFloat64("backoff_multiplier")
	p.RequestTimeout = time.Duration(v.GetInt("timeout")) * time.Second
	return p
}

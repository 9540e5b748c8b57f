package tool

import (
	"testing"
	"time"
)

func TestHintMethods(t *testing.T) {
	cases := []struct {
		name         string
		meta         Metadata
		parallelSafe bool
		cacheable    bool
	}{
		{
			name:         "parallel safe by default",
			meta:         Metadata{Name: "a"},
			parallelSafe: true,
		},
		{
			name:         "sequential_only wins over parallel_safe",
			meta:         Metadata{Name: "b", Hints: []Hint{HintParallelSafe, HintSequentialOnly}},
			parallelSafe: false,
		},
		{
			name:         "cache_friendly with ttl",
			meta:         Metadata{Name: "c", Hints: []Hint{HintCacheFriendly}, CacheTTL: time.Minute},
			parallelSafe: true,
			cacheable:    true,
		},
		{
			name:         "real_time never cacheable",
			meta:         Metadata{Name: "d", Hints: []Hint{HintCacheFriendly, HintRealTime}, CacheTTL: time.Minute},
			parallelSafe: true,
		},
		{
			name:         "zero ttl never cacheable",
			meta:         Metadata{Name: "e", Hints: []Hint{HintCacheFriendly}},
			parallelSafe: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.meta.ParallelSafe(); got != tc.parallelSafe {
				t.Errorf("ParallelSafe() = %v, want %v", got, tc.parallelSafe)
			}
			if got := tc.meta.Cacheable(); got != tc.cacheable {
				t.Errorf("Cacheable() = %v, want %v", got, tc.cacheable)
			}
		})
	}
}

// The hint methods must be callable on a plain return value, not just an
// addressable variable, since callers chain them off lookups.
func TestHintMethodsOnReturnValue(t *testing.T) {
	if !DefaultMetadata("anything").ParallelSafe() {
		t.Error("defaults should be parallel-safe")
	}
	if DefaultMetadata("anything").Cacheable() {
		t.Error("defaults must not be cacheable")
	}
	if DefaultMetadata("anything").Has(HintSequentialOnly) {
		t.Error("defaults carry no sequential_only hint")
	}
}

func TestValidateFillsBounds(t *testing.T) {
	m := Metadata{Name: "web_search", RetryCount: -1}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
	if m.Timeout != DefaultTimeout {
		t.Errorf("timeout = %s, want %s", m.Timeout, DefaultTimeout)
	}
	if m.RetryCount != DefaultRetryCount {
		t.Errorf("retry count = %d, want %d", m.RetryCount, DefaultRetryCount)
	}

	if err := (&Metadata{}).Validate(); err == nil {
		t.Error("expected an error for a missing name")
	}
}

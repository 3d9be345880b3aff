package provconf

import (
	"strings"
	"testing"
	"time"

	"github.com/tetherkit/tether/pkg/errmodel"
)

func TestResolveOrder(t *testing.T) {
	t.Setenv("TETHER_TEST_API_KEY", "from-env")

	// Explicit option wins over the environment.
	v, err := Resolve("api_key", map[string]string{"api_key": "explicit"}, "TETHER_TEST_API_KEY")
	if err != nil || v != "explicit" {
		t.Fatalf("explicit = %q, %v", v, err)
	}

	// Environment is the fallback.
	v, err = Resolve("api_key", nil, "TETHER_TEST_API_KEY")
	if err != nil || v != "from-env" {
		t.Fatalf("env = %q, %v", v, err)
	}

	// Empty option values do not shadow the environment.
	v, err = Resolve("api_key", map[string]string{"api_key": ""}, "TETHER_TEST_API_KEY")
	if err != nil || v != "from-env" {
		t.Fatalf("empty option = %q, %v", v, err)
	}
}

func TestResolveMissingNamesEnvVar(t *testing.T) {
	_, err := Resolve("api_key", nil, "TETHER_TEST_DEFINITELY_UNSET")
	if !errmodel.IsKind(err, errmodel.KindUnauthorized) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
	if !strings.Contains(err.Error(), "TETHER_TEST_DEFINITELY_UNSET") {
		t.Fatalf("error does not name the variable: %v", err)
	}
	if !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("error does not name the option key: %v", err)
	}
}

func TestResolveOptionalAndDefault(t *testing.T) {
	if v, ok := ResolveOptional("base_url", nil, "TETHER_TEST_DEFINITELY_UNSET"); ok || v != "" {
		t.Fatalf("optional unset = %q, %v", v, ok)
	}
	if v := ResolveDefault("base_url", nil, "TETHER_TEST_DEFINITELY_UNSET", "http://localhost:1234"); v != "http://localhost:1234" {
		t.Fatalf("default = %q", v)
	}
	if v := ResolveDefault("base_url", map[string]string{"base_url": "http://other"}, "TETHER_TEST_DEFINITELY_UNSET", "x"); v != "http://other" {
		t.Fatalf("default with option = %q", v)
	}
}

func TestPolicyForDefaults(t *testing.T) {
	p := PolicyFor("TETHER_TEST_POLICY", nil)
	if p.MaxRetries != 3 {
		t.Fatalf("max retries = %d", p.MaxRetries)
	}
	if p.InitialDelay != 500*time.Millisecond || p.MaxDelay != 10*time.Second {
		t.Fatalf("delays = %v / %v", p.InitialDelay, p.MaxDelay)
	}
	if p.Multiplier != 2.0 || p.RequestTimeout != 30*time.Second {
		t.Fatalf("multiplier/timeout = %v / %v", p.Multiplier, p.RequestTimeout)
	}
}

func TestPolicyForOverrides(t *testing.T) {
	t.Setenv("TETHER_TEST_POLICY_MAX_RETRIES", "7")
	t.Setenv("TETHER_TEST_POLICY_INITIAL_DELAY_MS", "50")

	p := PolicyFor("TETHER_TEST_POLICY", nil)
	if p.MaxRetries != 7 || p.InitialDelay != 50*time.Millisecond {
		t.Fatalf("env overrides = %+v", p)
	}

	// Explicit options beat the environment.
	p = PolicyFor("TETHER_TEST_POLICY", map[string]string{"max_retries": "1"})
	if p.MaxRetries != 1 {
		t.Fatalf("option override = %d", p.MaxRetries)
	}
}

package provider

import "testing"

func TestLookupBuiltin(t *testing.T) {
	r := New()
	c, ok := r.Lookup("github")
	if !ok {
		t.Fatal("expected github to be registered")
	}
	if c.DisplayName != "GitHub" {
		t.Errorf("DisplayName = %q", c.DisplayName)
	}
	if !c.SupportsPKCE || !c.SupportsDeviceCode {
		t.Error("expected github to support both PKCE and device code")
	}
}

func TestLookupUnknown(t *testing.T) {
	r := New()
	if _, ok := r.Lookup("nonexistent"); ok {
		t.Error("expected unknown provider to be absent")
	}
}

func TestExtraOverridesBuiltin(t *testing.T) {
	custom := Config{ID: "github", DisplayName: "GitHub Enterprise", TokenURL: "https://ghe.example.com/oauth/token"}
	r := New(custom)

	c, ok := r.Lookup("github")
	if !ok {
		t.Fatal("expected github to be registered")
	}
	if c.DisplayName != "GitHub Enterprise" {
		t.Errorf("expected extra config to override builtin, got %+v", c)
	}
}

func TestExtraAddsNewProvider(t *testing.T) {
	custom := Config{ID: "okta", DisplayName: "Okta", TokenURL: "https://example.okta.com/oauth2/v1/token"}
	r := New(custom)

	if _, ok := r.Lookup("okta"); !ok {
		t.Fatal("expected okta to be registered")
	}
	if _, ok := r.Lookup("github"); !ok {
		t.Fatal("expected builtin github to still be registered")
	}
}

func TestAllIncludesBuiltinsAndExtras(t *testing.T) {
	r := New(Config{ID: "okta", DisplayName: "Okta"})
	all := r.All()
	if len(all) != 4 {
		t.Fatalf("All() len = %d, want 4", len(all))
	}
}

func TestDeviceAuthURLDerivation(t *testing.T) {
	c := Config{TokenURL: "https://example.com/oauth/token"}
	want := "https://example.com/oauth/device/code"
	if got := c.DeviceAuthURL(); got != want {
		t.Errorf("DeviceAuthURL() = %q, want %q", got, want)
	}
}

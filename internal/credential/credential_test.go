package credential

import "testing"

func TestParseTypeAliasesToken(t *testing.T) {
	ty, err := ParseType("token")
	if err != nil {
		t.Fatal(err)
	}
	if ty != AccessToken {
		t.Errorf("ParseType(token) = %v, want AccessToken", ty)
	}
	if ty.String() != "access_token" {
		t.Errorf("canonical serialization = %q, want access_token", ty.String())
	}
}

func TestParseTypeKnown(t *testing.T) {
	for _, name := range []string{"access_token", "refresh_token", "token_expiry", "token_scopes", "api_key", "client_id", "client_secret"} {
		ty, err := ParseType(name)
		if err != nil {
			t.Fatalf("ParseType(%q): %v", name, err)
		}
		if ty.String() != name {
			t.Errorf("ParseType(%q).String() = %q", name, ty.String())
		}
	}
}

func TestParseTypeCustom(t *testing.T) {
	ty, err := ParseType("totp_secret")
	if err != nil {
		t.Fatal(err)
	}
	if ty.String() != "totp_secret" {
		t.Errorf("Custom type String() = %q, want totp_secret", ty.String())
	}
}

func TestParseTypeEmpty(t *testing.T) {
	if _, err := ParseType(""); err == nil {
		t.Error("expected error for empty credential type")
	}
}

func TestRefKey(t *testing.T) {
	r := Ref{Service: "github", Account: "main", Type: AccessToken}
	want := "sigilforge/github/main/access_token"
	if got := r.Key(); got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestRefString(t *testing.T) {
	r := Ref{Service: "github", Account: "main", Type: AccessToken}
	want := "auth://github/main/access_token"
	if got := r.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestNormalizeService(t *testing.T) {
	if got := NormalizeService("GitHub"); got != "github" {
		t.Errorf("NormalizeService(GitHub) = %q, want github", got)
	}
}

package credentials

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestStatic(t *testing.T) {
	cred, err := Static("abc").Resolve(context.Background())
	if err != nil || cred.APIKey != "abc" {
		t.Errorf("Resolve() = %+v, %v", cred, err)
	}
	if _, err := Static("").Resolve(context.Background()); !errors.Is(err, ErrNoCredential) {
		t.Errorf("empty Static = %v", err)
	}
}

func TestEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "fallback")

	cred, err := Env{}.Resolve(context.Background())
	if err != nil || cred.APIKey != "fallback" {
		t.Errorf("Resolve() = %+v, %v", cred, err)
	}

	t.Setenv("GEMINI_API_KEY", "primary")
	cred, _ = Env{}.Resolve(context.Background())
	if cred.APIKey != "primary" {
		t.Errorf("APIKey = %q, want primary", cred.APIKey)
	}

	if _, err := (Env{Vars: []string{"GOLIVE_UNSET_VAR"}}).Resolve(context.Background()); !errors.Is(err, ErrNoCredential) {
		t.Errorf("unset = %v", err)
	}
}

func TestPool_Rotation(t *testing.T) {
	p := NewPool([]string{"k1", "", "k2"}, 1)
	ctx := context.Background()

	want := []struct {
		key     string
		rotated bool
	}{
		{"k2", false},
		{"k1", true},
		{"k2", true},
	}
	for i, w := range want {
		cred, err := p.Resolve(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if cred.APIKey != w.key || cred.Rotated != w.rotated {
			t.Errorf("resolve %d = %+v, want %s rotated=%v", i, cred, w.key, w.rotated)
		}
	}
}

func TestPool_SingleKeyNeverRotates(t *testing.T) {
	p := NewPool([]string{"only"}, 0)
	for i := 0; i < 3; i++ {
		cred, _ := p.Resolve(context.Background())
		if cred.Rotated {
			t.Error("single key pool should never report rotation")
		}
	}
}

func TestPool_Empty(t *testing.T) {
	if _, err := NewPool(nil, 0).Resolve(context.Background()); !errors.Is(err, ErrNoCredential) {
		t.Errorf("empty pool = %v", err)
	}
}

func TestChain(t *testing.T) {
	boom := errors.New("keychain locked")
	c := Chain{
		Static(""),
		ProviderFunc(func(context.Context) (Credential, error) { return Credential{}, boom }),
		Static("last"),
	}
	cred, err := c.Resolve(context.Background())
	if err != nil || cred.APIKey != "last" {
		t.Errorf("Resolve() = %+v, %v", cred, err)
	}

	_, err = Chain{Static(""), ProviderFunc(func(context.Context) (Credential, error) { return Credential{}, boom })}.Resolve(context.Background())
	if !errors.Is(err, ErrNoCredential) || !errors.Is(err, boom) {
		t.Errorf("error = %v, want both ErrNoCredential and cause", err)
	}
}

func TestOAuth(t *testing.T) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "ya29.x", Expiry: time.Now().Add(time.Hour)})
	cred, err := NewOAuth(ts).Resolve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cred.Bearer != "ya29.x" || cred.APIKey != "" {
		t.Errorf("cred = %+v", cred)
	}
}

func TestTokenFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	want := &oauth2.Token{AccessToken: "saved", Expiry: time.Now().Add(time.Hour)}
	if err := SaveToken(path, want); err != nil {
		t.Fatal(err)
	}

	tf, err := NewTokenFile(nil, path)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := tf.Token()
	if err != nil || tok.AccessToken != "saved" {
		t.Errorf("Token() = %v, %v", tok, err)
	}
}

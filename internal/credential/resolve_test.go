package credential

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeCredFile(t *testing.T, dir, name, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
	return path
}

func envLookup(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestResolve_Empty(t *testing.T) {
	c, err := NewResolver("", "").Resolve(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != nil {
		t.Errorf("credential = %v, want nil (guest)", c)
	}
}

func TestResolve_Env(t *testing.T) {
	r := NewResolver("", "")
	r.LookupEnv = envLookup(map[string]string{
		"OFFICE_USERNAME": "alice",
		"OFFICE_PASSWORD": "s3cret",
		"OFFICE_DOMAIN":   "CORP",
	})

	c, err := r.Resolve(context.Background(), "env://OFFICE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Account() != `CORP\alice` {
		t.Errorf("account = %q, want %q", c.Account(), `CORP\alice`)
	}
	if c.Password != "s3cret" {
		t.Errorf("password = %q, want %q", c.Password, "s3cret")
	}
}

func TestResolve_EnvMissing(t *testing.T) {
	r := NewResolver("", "")
	r.LookupEnv = envLookup(nil)

	_, err := r.Resolve(context.Background(), "env://OFFICE")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResolve_FileRelative(t *testing.T) {
	dir := t.TempDir()
	writeCredFile(t, dir, "nas", "username=bob\npassword=pw\n", 0o600)

	c, err := NewResolver(dir, "").Resolve(context.Background(), "file://nas")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Username != "bob" {
		t.Errorf("username = %q, want %q", c.Username, "bob")
	}
}

func TestResolve_FileAbsolute(t *testing.T) {
	dir := t.TempDir()
	path := writeCredFile(t, dir, "abs", "username=WORKGROUP/carol\n", 0o600)

	c, err := NewResolver("", "").Resolve(context.Background(), "file://"+path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Domain != "WORKGROUP" || c.Username != "carol" {
		t.Errorf("credential = %s, want WORKGROUP\\carol", c)
	}
}

func TestResolve_FileMissing(t *testing.T) {
	_, err := NewResolver(t.TempDir(), "").Resolve(context.Background(), "file://nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResolve_FileTooOpen(t *testing.T) {
	dir := t.TempDir()
	writeCredFile(t, dir, "open", "username=bob\n", 0o644)

	_, err := NewResolver(dir, "").Resolve(context.Background(), "file://open")
	if err == nil {
		t.Fatal("expected error for world-readable credential file")
	}
}

func TestResolve_FileIsDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o700); err != nil {
		t.Fatal(err)
	}

	_, err := NewResolver(dir, "").Resolve(context.Background(), "file://sub")
	if err == nil {
		t.Fatal("expected error for directory")
	}
}

func TestResolve_Static(t *testing.T) {
	r := NewResolver("", "")
	ref := r.Put("prompt", Credential{Username: "dave", Password: "pw"})
	if ref != "static://prompt" {
		t.Errorf("ref = %q, want %q", ref, "static://prompt")
	}

	c, err := r.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Username != "dave" {
		t.Errorf("username = %q, want %q", c.Username, "dave")
	}
}

func TestResolve_UnknownScheme(t *testing.T) {
	_, err := NewResolver("", "").Resolve(context.Background(), "vault://secret/smb")
	if !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("err = %v, want ErrUnknownScheme", err)
	}
}

func TestValidateRef(t *testing.T) {
	valid := []string{"", "env://OFFICE", "file://nas", "file:///etc/smb.cred", "static://x"}
	for _, ref := range valid {
		if err := ValidateRef(ref); err != nil {
			t.Errorf("ValidateRef(%q) = %v, want nil", ref, err)
		}
	}
	invalid := []string{"OFFICE", "vault://x", "env://"}
	for _, ref := range invalid {
		if err := ValidateRef(ref); err == nil {
			t.Errorf("ValidateRef(%q) = nil, want error", ref)
		}
	}
}

func TestCredentialStringRedacts(t *testing.T) {
	c := Credential{Username: "alice", Password: "s3cret"}
	if got := c.String(); got != "alice:<redacted>" {
		t.Errorf("String() = %q", got)
	}
	if got := (Credential{}).String(); got != "guest" {
		t.Errorf("String() = %q, want guest", got)
	}
}

package credential

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Resolver dispatches references by scheme.
//
// Supported schemes:
//   - env://PREFIX     → $PREFIX_USERNAME, $PREFIX_PASSWORD, $PREFIX_DOMAIN
//   - file://name      → filepath.Join(Dir, name)
//   - file:///abs/path → absolute path as-is
//   - static://name    → a credential registered with Put
//
// A file is either sealed (see Seal) or a plain username=/password=/domain=
// file, the cifs credentials format.
type Resolver struct {
	Dir string
	// Passphrase unlocks sealed files. It is only called when one is read.
	Passphrase func() (string, error)
	LookupEnv  func(string) (string, bool)

	mu     sync.RWMutex
	static map[string]Credential
}

// NewResolver returns a Resolver reading relative files from dir and sealed
// files with the passphrase in the environment variable passphraseEnv.
func NewResolver(dir, passphraseEnv string) *Resolver {
	r := &Resolver{Dir: dir, LookupEnv: os.LookupEnv}
	if passphraseEnv != "" {
		r.Passphrase = func() (string, error) {
			v, ok := r.LookupEnv(passphraseEnv)
			if !ok || v == "" {
				return "", fmt.Errorf("passphrase variable %s is not set", passphraseEnv)
			}
			return v, nil
		}
	}
	return r
}

// Put registers an in-memory credential under static://name.
func (r *Resolver) Put(name string, c Credential) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.static == nil {
		r.static = make(map[string]Credential)
	}
	r.static[name] = c
	return "static://" + name
}

func (r *Resolver) Resolve(_ context.Context, ref string) (*Credential, error) {
	if ref == "" {
		return nil, nil
	}
	switch Scheme(ref) {
	case "env":
		return r.resolveEnv(strings.TrimPrefix(ref, "env://"))
	case "file":
		return r.resolveFile(strings.TrimPrefix(ref, "file://"))
	case "static":
		return r.resolveStatic(strings.TrimPrefix(ref, "static://"))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheme, ref)
	}
}

// ValidateRef checks that ref is well-formed without resolving it.
func ValidateRef(ref string) error {
	if ref == "" {
		return nil
	}
	scheme := Scheme(ref)
	switch scheme {
	case "env", "file", "static":
	default:
		return fmt.Errorf("%w: %s", ErrUnknownScheme, ref)
	}
	if strings.TrimPrefix(ref, scheme+"://") == "" {
		return fmt.Errorf("credential reference %s has no target", ref)
	}
	return nil
}

func (r *Resolver) resolveEnv(prefix string) (*Credential, error) {
	lookup := r.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	prefix = strings.TrimSuffix(prefix, "_")
	user, ok := lookup(prefix + "_USERNAME")
	if !ok {
		return nil, fmt.Errorf("%w: %s_USERNAME is not set", ErrNotFound, prefix)
	}
	pass, _ := lookup(prefix + "_PASSWORD")
	domain, _ := lookup(prefix + "_DOMAIN")
	return &Credential{Username: user, Password: pass, Domain: domain}, nil
}

func (r *Resolver) resolveFile(raw string) (*Credential, error) {
	var path string
	if strings.HasPrefix(raw, "/") {
		path = raw
	} else {
		path = filepath.Join(r.Dir, raw)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("credential file is a directory: %s", path)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("credential file %s is accessible by other users (mode %04o)", path, info.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credential file: %w", err)
	}

	if IsSealed(data) {
		if r.Passphrase == nil {
			return nil, fmt.Errorf("credential file %s is sealed and no passphrase is configured", path)
		}
		pass, err := r.Passphrase()
		if err != nil {
			return nil, err
		}
		c, err := Open(data, pass)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		return c, nil
	}

	c, err := ParseFile(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return c, nil
}

func (r *Resolver) resolveStatic(name string) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.static[name]
	if !ok {
		return nil, fmt.Errorf("%w: static://%s", ErrNotFound, name)
	}
	return &c, nil
}

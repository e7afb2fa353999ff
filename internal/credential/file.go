package credential

import (
	"fmt"
	"strings"

	"github.com/sznuper/smbdoctor/internal/parse"
)

// ParseFile reads a plain username=/password=/domain= credentials file.
func ParseFile(text string) (*Credential, error) {
	kv, err := parse.ParseKeyValues(text, "username")
	if err != nil {
		return nil, err
	}
	c := &Credential{
		Username: kv.Get("username"),
		Password: kv.Get("password"),
		Domain:   kv.Get("domain"),
	}
	// mount.cifs also accepts user=DOMAIN/name.
	if c.Domain == "" {
		if d, u, ok := strings.Cut(c.Username, "/"); ok {
			c.Domain, c.Username = d, u
		}
	}
	return c, nil
}

// Format renders c in the cifs credentials file format.
func Format(c Credential) string {
	var b strings.Builder
	fmt.Fprintf(&b, "username=%s\n", c.Username)
	fmt.Fprintf(&b, "password=%s\n", c.Password)
	if c.Domain != "" {
		fmt.Fprintf(&b, "domain=%s\n", c.Domain)
	}
	return b.String()
}

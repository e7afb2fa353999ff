package engine

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sznuper/smbdoctor/internal/report"
)

// DefaultTimeout is the per-operation probe timeout when none is given.
const DefaultTimeout = 10 * time.Second

// Target is the input of one diagnostic run. It is read-only during a run.
type Target struct {
	Name       string
	Address    string        `validate:"required,hostname_rfc1123|ip"`
	Share      string        `validate:"omitempty,max=80,excludesall=/\\"`
	Credential string        // opaque reference handed to the credential provider
	Timeout    time.Duration `validate:"gt=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the target's fields.
func (t Target) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("invalid target: %w", err)
	}
	return nil
}

// Info is the credential-free summary stored on the report.
func (t Target) Info() report.TargetInfo {
	return report.TargetInfo{
		Name:    t.Name,
		Server:  t.Address,
		Share:   t.Share,
		Timeout: t.Timeout.String(),
	}
}

// TargetBuilder collects target fields up front so the engine never has to
// ask for anything mid-run.
type TargetBuilder struct {
	t Target
}

// NewTarget starts a builder for the given server address.
func NewTarget(address string) *TargetBuilder {
	return &TargetBuilder{t: Target{Address: address, Timeout: DefaultTimeout}}
}

func (b *TargetBuilder) Named(name string) *TargetBuilder {
	b.t.Name = name
	return b
}

func (b *TargetBuilder) Share(share string) *TargetBuilder {
	b.t.Share = share
	return b
}

func (b *TargetBuilder) Credential(ref string) *TargetBuilder {
	b.t.Credential = ref
	return b
}

// Timeout sets the per-operation timeout; zero keeps the default.
func (b *TargetBuilder) Timeout(d time.Duration) *TargetBuilder {
	if d != 0 {
		b.t.Timeout = d
	}
	return b
}

// Build validates and returns the target.
func (b *TargetBuilder) Build() (Target, error) {
	t := b.t
	if t.Name == "" {
		t.Name = t.Address
	}
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	return t, nil
}

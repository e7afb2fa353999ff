// Package checks is the stage library: one run function per capability,
// written against probe.Adapter, and the default registry wiring them
// together.
package checks

import (
	"context"
	"time"

	"github.com/sznuper/smbdoctor/internal/allocator"
	"github.com/sznuper/smbdoctor/internal/credential"
	"github.com/sznuper/smbdoctor/internal/engine"
	"github.com/sznuper/smbdoctor/internal/probe"
	"github.com/sznuper/smbdoctor/internal/report"
)

// Stage names in the default registry.
const (
	StageService      = "service"
	StageReachability = "reachability"
	StagePorts        = "ports"
	StageShares       = "shares"
	StageShareAccess  = "share-access"
	StageMount        = "mount"
)

// Options tunes the probes. Zero fields take the defaults.
type Options struct {
	PingCount            int
	PrimaryPortTimeout   time.Duration
	SecondaryPortTimeout time.Duration
	// TCPFallback tries the primary port when no echo reply arrives.
	TCPFallback bool
}

// DefaultOptions returns the recommended probe settings.
func DefaultOptions() Options {
	return Options{
		PingCount:            2,
		PrimaryPortTimeout:   3 * time.Second,
		SecondaryPortTimeout: 2 * time.Second,
		TCPFallback:          true,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PingCount <= 0 {
		o.PingCount = d.PingCount
	}
	if o.PrimaryPortTimeout <= 0 {
		o.PrimaryPortTimeout = d.PrimaryPortTimeout
	}
	if o.SecondaryPortTimeout <= 0 {
		o.SecondaryPortTimeout = d.SecondaryPortTimeout
	}
	return o
}

// Suite holds what the run functions need.
type Suite struct {
	adapter probe.Adapter
	creds   credential.Provider
	alloc   *allocator.Allocator
	opts    Options
}

// NewSuite builds a Suite. A nil provider means every target is probed as
// guest; a nil allocator is built over the adapter's identifier space.
func NewSuite(adapter probe.Adapter, creds credential.Provider, alloc *allocator.Allocator, opts Options) *Suite {
	if alloc == nil {
		alloc = allocator.New(adapter.Identifiers(), adapter)
	}
	return &Suite{adapter: adapter, creds: creds, alloc: alloc, opts: opts.withDefaults()}
}

// Registry returns the standard stage graph:
//
//	service
//	reachability
//	ports         <- reachability
//	shares        <- reachability, ports
//	share-access  <- reachability, ports
//	mount         <- reachability, share-access
func (s *Suite) Registry() *engine.Registry {
	return engine.NewRegistry(
		engine.Stage{
			Name:       StageService,
			Capability: engine.ServiceRunning,
			Severity:   report.Critical,
			Run:        s.service,
		},
		engine.Stage{
			Name:       StageReachability,
			Capability: engine.NetworkReachable,
			Severity:   report.Critical,
			Run:        s.reachability,
		},
		engine.Stage{
			Name:          StagePorts,
			Capability:    engine.PortOpen,
			Prerequisites: []string{StageReachability},
			Severity:      report.Critical,
			Run:           s.ports,
		},
		engine.Stage{
			Name:          StageShares,
			Capability:    engine.ShareEnumerable,
			Prerequisites: []string{StageReachability, StagePorts},
			Severity:      report.Warning,
			Run:           s.shares,
		},
		engine.Stage{
			Name:          StageShareAccess,
			Capability:    engine.ShareAccessible,
			Prerequisites: []string{StageReachability, StagePorts},
			Severity:      report.Critical,
			Run:           s.shareAccess,
		},
		engine.Stage{
			Name:          StageMount,
			Capability:    engine.MountAttachable,
			Prerequisites: []string{StageReachability, StageShareAccess},
			Severity:      report.Critical,
			Run:           s.mount,
		},
	)
}

// DefaultRegistry is NewSuite(...).Registry() with default options.
func DefaultRegistry(adapter probe.Adapter, creds credential.Provider) *engine.Registry {
	return NewSuite(adapter, creds, nil, DefaultOptions()).Registry()
}

func (s *Suite) credential(ctx context.Context, env *engine.Env) (*credential.Credential, error) {
	if s.creds == nil || env.Target.Credential == "" {
		return nil, nil
	}
	return s.creds.Resolve(ctx, env.Target.Credential)
}

// bounded applies the target's per-operation timeout to one probe.
func bounded(ctx context.Context, env *engine.Env) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, env.Target.Timeout)
}

func account(c *credential.Credential) string {
	if c == nil {
		return "guest"
	}
	return c.Account()
}

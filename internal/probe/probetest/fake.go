// Package probetest provides a scriptable probe.Adapter for tests.
package probetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sznuper/smbdoctor/internal/allocator"
	"github.com/sznuper/smbdoctor/internal/credential"
	"github.com/sznuper/smbdoctor/internal/parse"
	"github.com/sznuper/smbdoctor/internal/probe"
)

// Adapter is a fake probe.Adapter. Zero values describe a healthy host with
// nothing to list. Set a field to script a behaviour.
type Adapter struct {
	Prof   probe.Profile
	Space  allocator.Space
	Prefix string // SharePath prefix, default `\\`

	Services     map[string]probe.ServiceState
	ServiceErr   error
	Reachable    bool
	ReachErr     error
	Ports        map[int]probe.PortState
	PortErr      map[int]error
	Listing      string
	ListErr      error
	Accessible   bool
	AccessErr    error
	AttachErr    error
	DetachErr    error
	InUse        []string
	InUseErr     error
	AttachPanics bool

	// AttachLands records the attachment even when AttachErr is returned.
	AttachLands bool

	// Block makes the named method wait for ctx cancellation; with Deaf set
	// it ignores ctx and waits forever.
	Block map[string]bool
	Deaf  bool

	mu       sync.Mutex
	calls    map[string]int
	attached map[string]string
	lastCred *credential.Credential
}

// Healthy returns a fake whose every probe succeeds and that lists the given
// smbclient-format listing.
func Healthy(listing string) *Adapter {
	return &Adapter{
		Prof: probe.Profile{
			OS:        "linux",
			Primary:   []string{"smbclient"},
			Secondary: []string{"mount.cifs"},
			Listing:   parse.SmbclientGrep,
			Mounts:    parse.ProcMounts,
		},
		Services: map[string]probe.ServiceState{
			"smbclient":  probe.ServiceRunning,
			"mount.cifs": probe.ServiceRunning,
		},
		Reachable:  true,
		Ports:      map[int]probe.PortState{probe.PortSMB: probe.PortOpen, probe.PortNetBIOS: probe.PortOpen},
		Listing:    listing,
		Accessible: true,
	}
}

// Calls returns how many times method was invoked.
func (a *Adapter) Calls(method string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[method]
}

// Attached returns the identifiers currently attached.
func (a *Adapter) Attached() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]string, len(a.attached))
	for k, v := range a.attached {
		out[k] = v
	}
	return out
}

// LastCredential returns the credential passed to the last call that took one.
func (a *Adapter) LastCredential() *credential.Credential {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastCred
}

func (a *Adapter) enter(ctx context.Context, method string, cred *credential.Credential) error {
	a.mu.Lock()
	if a.calls == nil {
		a.calls = make(map[string]int)
	}
	a.calls[method]++
	if cred != nil {
		a.lastCred = cred
	}
	block := a.Block[method]
	a.mu.Unlock()

	if !block {
		return nil
	}
	if a.Deaf {
		select {}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (a *Adapter) Profile() probe.Profile { return a.Prof }

func (a *Adapter) SharePath(server, share string) string {
	if a.Prefix == "//" {
		return "//" + server + "/" + share
	}
	return `\\` + server + `\` + share
}

func (a *Adapter) Identifiers() allocator.Space {
	if a.Space == nil {
		return allocator.Fixed{"Z:", "Y:", "X:"}
	}
	return a.Space
}

func (a *Adapter) QueryServiceState(ctx context.Context, name string) (probe.ServiceState, error) {
	if err := a.enter(ctx, "QueryServiceState", nil); err != nil {
		return probe.ServiceNotFound, err
	}
	if a.ServiceErr != nil {
		return probe.ServiceNotFound, a.ServiceErr
	}
	return a.Services[name], nil
}

func (a *Adapter) ReachabilityProbe(ctx context.Context, _ string, _ int, _ time.Duration) (bool, error) {
	if err := a.enter(ctx, "ReachabilityProbe", nil); err != nil {
		return false, err
	}
	return a.Reachable, a.ReachErr
}

func (a *Adapter) TCPConnect(ctx context.Context, _ string, port int, _ time.Duration) (probe.PortState, error) {
	if err := a.enter(ctx, "TCPConnect", nil); err != nil {
		return probe.PortError, err
	}
	if err := a.PortErr[port]; err != nil {
		return probe.PortError, err
	}
	if s, ok := a.Ports[port]; ok {
		return s, nil
	}
	return probe.PortClosed, nil
}

func (a *Adapter) ListShares(ctx context.Context, _ string, cred *credential.Credential) (string, error) {
	if err := a.enter(ctx, "ListShares", cred); err != nil {
		return "", err
	}
	return a.Listing, a.ListErr
}

func (a *Adapter) CheckPathAccessible(ctx context.Context, _ string, cred *credential.Credential) (bool, error) {
	if err := a.enter(ctx, "CheckPathAccessible", cred); err != nil {
		return false, err
	}
	return a.Accessible, a.AccessErr
}

func (a *Adapter) Attach(ctx context.Context, id, path string, cred *credential.Credential) error {
	if err := a.enter(ctx, "Attach", cred); err != nil {
		return err
	}
	if a.AttachPanics {
		panic(fmt.Sprintf("attach %s exploded", id))
	}
	if a.AttachErr != nil && !a.AttachLands {
		return a.AttachErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.attached == nil {
		a.attached = make(map[string]string)
	}
	a.attached[id] = path
	return a.AttachErr
}

func (a *Adapter) Detach(ctx context.Context, id string) error {
	if err := a.enter(ctx, "Detach", nil); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.attached, id)
	return a.DetachErr
}

// ListInUseIdentifiers reports InUse plus whatever the fake has attached.
func (a *Adapter) ListInUseIdentifiers(ctx context.Context) ([]string, error) {
	if err := a.enter(ctx, "ListInUseIdentifiers", nil); err != nil {
		return nil, err
	}
	if a.InUseErr != nil {
		return nil, a.InUseErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := append([]string(nil), a.InUse...)
	for id := range a.attached {
		out = append(out, strings.ToUpper(id))
	}
	return out, nil
}

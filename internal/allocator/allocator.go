// Package allocator reserves a local attachment identifier (a drive letter
// or a mount point) for the duration of one mount test and guarantees it is
// released afterwards.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrNoFreeIdentifier is returned by Reserve when every candidate is in use.
var ErrNoFreeIdentifier = errors.New("no free identifier")

// Space enumerates candidate identifiers in order of preference.
type Space interface {
	Candidates() ([]string, error)
}

// Preparer is implemented by spaces whose identifiers must be created before
// they can be attached to, such as mount-point directories.
type Preparer interface {
	Prepare(ctx context.Context, id string) error
}

// Freer is implemented by spaces that must tear down a prepared identifier.
type Freer interface {
	Free(ctx context.Context, id string) error
}

// Backend answers which identifiers the system already uses and detaches
// identifiers we attached.
type Backend interface {
	ListInUseIdentifiers(ctx context.Context) ([]string, error)
	Detach(ctx context.Context, id string) error
}

// Allocator hands out identifiers from one Space. Identifiers held by this
// Allocator are excluded from later reservations until released, so one
// Allocator can be shared by concurrent runs.
type Allocator struct {
	space   Space
	backend Backend

	mu   sync.Mutex
	held map[string]struct{}
}

// New returns an Allocator over space that checks usage through backend.
func New(space Space, backend Backend) *Allocator {
	return &Allocator{space: space, backend: backend, held: make(map[string]struct{})}
}

// Reserve picks the first candidate that is neither in use on the system nor
// held by another reservation. The returned release func is idempotent and
// must be called exactly once the caller is done, whether or not the attach
// succeeded.
func (a *Allocator) Reserve(ctx context.Context) (*Handle, func(context.Context) error, error) {
	candidates, err := a.space.Candidates()
	if err != nil {
		return nil, nil, fmt.Errorf("listing candidate identifiers: %w", err)
	}
	inUse, err := a.backend.ListInUseIdentifiers(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing identifiers in use: %w", err)
	}
	busy := make(map[string]struct{}, len(inUse))
	for _, id := range inUse {
		busy[normalize(id)] = struct{}{}
	}

	a.mu.Lock()
	id := ""
	for _, c := range candidates {
		key := normalize(c)
		if _, ok := busy[key]; ok {
			continue
		}
		if _, ok := a.held[key]; ok {
			continue
		}
		id = c
		a.held[key] = struct{}{}
		break
	}
	a.mu.Unlock()

	if id == "" {
		return nil, nil, fmt.Errorf("%w among %d candidates", ErrNoFreeIdentifier, len(candidates))
	}

	h := &Handle{ID: id, a: a}
	if p, ok := a.space.(Preparer); ok {
		if err := p.Prepare(ctx, id); err != nil {
			a.forget(id)
			return nil, nil, fmt.Errorf("preparing %s: %w", id, err)
		}
		h.prepared = true
	}
	return h, h.release, nil
}

func (a *Allocator) forget(id string) {
	a.mu.Lock()
	delete(a.held, normalize(id))
	a.mu.Unlock()
}

// Held reports how many identifiers are currently reserved.
func (a *Allocator) Held() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.held)
}

// Handle is one reserved identifier.
type Handle struct {
	ID string

	a        *Allocator
	prepared bool
	attached atomic.Bool
	once     sync.Once
	err      error
}

// MarkAttached records that the identifier was attached, so release detaches
// it before freeing the reservation.
func (h *Handle) MarkAttached() { h.attached.Store(true) }

// Attached reports whether MarkAttached was called.
func (h *Handle) Attached() bool { return h.attached.Load() }

func (h *Handle) release(ctx context.Context) error {
	h.once.Do(func() {
		var errs []error
		if h.attached.Load() {
			if err := h.a.backend.Detach(ctx, h.ID); err != nil {
				errs = append(errs, fmt.Errorf("detaching %q: %w", h.ID, err))
			}
		}
		if f, ok := h.a.space.(Freer); ok && h.prepared {
			if err := f.Free(ctx, h.ID); err != nil {
				errs = append(errs, fmt.Errorf("freeing %q: %w", h.ID, err))
			}
		}
		h.a.forget(h.ID)
		h.err = errors.Join(errs...)
	})
	return h.err
}

func normalize(id string) string {
	return strings.ToUpper(strings.TrimRight(id, `\/`))
}

// LetterSpace is a fixed drive-letter space scanned from the last letter
// backwards, so mappings land on letters users rarely claim.
type LetterSpace struct {
	First, Last byte
}

// DriveLetters covers A: through Z:.
var DriveLetters = LetterSpace{First: 'A', Last: 'Z'}

func (s LetterSpace) Candidates() ([]string, error) {
	if s.First > s.Last {
		return nil, fmt.Errorf("invalid letter range %c-%c", s.First, s.Last)
	}
	out := make([]string, 0, s.Last-s.First+1)
	for c := s.Last; ; c-- {
		out = append(out, string(rune(c))+":")
		if c == s.First {
			break
		}
	}
	return out, nil
}

// Fixed is a Space over an explicit candidate list, used in tests and for
// operator-pinned identifiers.
type Fixed []string

func (f Fixed) Candidates() ([]string, error) {
	return slices.Clone(f), nil
}

// Package probe defines the platform boundary: every service query, network
// probe, share listing and mount operation the diagnostic stages perform goes
// through an Adapter.
package probe

import (
	"context"
	"errors"
	"time"

	"github.com/sznuper/smbdoctor/internal/allocator"
	"github.com/sznuper/smbdoctor/internal/credential"
	"github.com/sznuper/smbdoctor/internal/parse"
)

var (
	// ErrAuthRejected is returned by ListShares, CheckPathAccessible and
	// Attach when the server refused the supplied (or guest) credentials.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrToolMissing is returned when a required local tool is not installed.
	ErrToolMissing = errors.New("required tool not installed")
)

// ServiceState is the state of a local client service or tool.
type ServiceState int

const (
	ServiceNotFound ServiceState = iota
	ServiceStopped
	ServiceRunning
)

func (s ServiceState) String() string {
	switch s {
	case ServiceRunning:
		return "running"
	case ServiceStopped:
		return "stopped"
	default:
		return "not_found"
	}
}

// PortState is the result of one TCP connect attempt.
type PortState int

const (
	PortError PortState = iota
	PortClosed
	PortOpen
)

func (s PortState) String() string {
	switch s {
	case PortOpen:
		return "open"
	case PortClosed:
		return "closed"
	default:
		return "error"
	}
}

// Well-known SMB ports.
const (
	PortSMB     = 445
	PortNetBIOS = 139
)

// Profile describes what a platform expects of its SMB client.
type Profile struct {
	OS string
	// Primary services must be running for any share access to work.
	Primary []string
	// Secondary services are optional; a stopped one only warrants a warning.
	Secondary []string
	Listing   parse.ListingFormat
	Mounts    parse.MountFormat
}

// Adapter is implemented once per operating system.
type Adapter interface {
	Profile() Profile
	// SharePath builds the platform's path to a share, \\srv\share or
	// //srv/share.
	SharePath(server, share string) string
	// Identifiers is the space the mount test allocates from.
	Identifiers() allocator.Space

	QueryServiceState(ctx context.Context, name string) (ServiceState, error)
	ReachabilityProbe(ctx context.Context, address string, count int, timeout time.Duration) (bool, error)
	TCPConnect(ctx context.Context, address string, port int, timeout time.Duration) (PortState, error)
	// ListShares returns the raw listing text in Profile().Listing format.
	ListShares(ctx context.Context, address string, cred *credential.Credential) (string, error)
	CheckPathAccessible(ctx context.Context, path string, cred *credential.Credential) (bool, error)
	Attach(ctx context.Context, id, path string, cred *credential.Credential) error
	Detach(ctx context.Context, id string) error
	ListInUseIdentifiers(ctx context.Context) ([]string, error)
}

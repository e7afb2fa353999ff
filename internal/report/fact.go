package report

// Fact is a typed datum extracted from a probe. Later stages may read the
// facts of earlier ones through the orchestrator.
type Fact interface {
	Kind() string
}

type ServiceFact struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Required bool   `json:"required"`
}

func (ServiceFact) Kind() string { return "service" }

type ReachabilityFact struct {
	Address   string `json:"address"`
	Reachable bool   `json:"reachable"`
	Via       string `json:"via"` // "icmp" or "tcp/<port>"
}

func (ReachabilityFact) Kind() string { return "reachability" }

type PortFact struct {
	Port    int  `json:"port"`
	Open    bool `json:"open"`
	Primary bool `json:"primary"`
}

func (PortFact) Kind() string { return "port" }

// ShareType tags a share discovered in a listing.
type ShareType string

const (
	ShareDisk    ShareType = "Disk"
	SharePrinter ShareType = "Printer"
	ShareIPC     ShareType = "IPC"
	ShareSpecial ShareType = "Special"
)

type ShareFact struct {
	Name    string    `json:"name"`
	Type    ShareType `json:"type"`
	Comment string    `json:"comment,omitempty"`
}

func (ShareFact) Kind() string { return "share" }

type AccessFact struct {
	Path       string `json:"path"`
	Accessible bool   `json:"accessible"`
}

func (AccessFact) Kind() string { return "access" }

// MountFact describes a mapped drive or mount point, either one created by
// the mount test or one found in a mount table.
type MountFact struct {
	Identifier string `json:"identifier"`
	Remote     string `json:"remote"`
	FSType     string `json:"fs_type,omitempty"`
}

func (MountFact) Kind() string { return "mount" }

// FactsOf returns the facts of concrete type T, preserving order.
func FactsOf[T Fact](facts []Fact) []T {
	var out []T
	for _, f := range facts {
		if v, ok := f.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

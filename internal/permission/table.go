package permission

import "sort"

// Capability is a privileged radio activity guarded by the gate
type Capability int

const (
	Scan Capability = iota
	Advertise
)

func (c Capability) String() string {
	switch c {
	case Scan:
		return "scan"
	case Advertise:
		return "advertise"
	default:
		return "unknown"
	}
}

// Effect is what a capability means on a given platform version.
// Check is the permission whose grant decides the capability; empty means implicitly granted.
// Request lists the permissions to ask for when prompting.
type Effect struct {
	Check   string   `yaml:"check" json:"check"`
	Request []string `yaml:"request" json:"request"`
}

// Rule applies from MinVersion up to the next rule's MinVersion
type Rule struct {
	MinVersion int    `yaml:"min_version" json:"min_version"`
	Scan       Effect `yaml:"scan" json:"scan"`
	Advertise  Effect `yaml:"advertise" json:"advertise"`
}

// Effect returns the effect for c
func (r Rule) Effect(c Capability) Effect {
	if c == Advertise {
		return r.Advertise
	}
	return r.Scan
}

// Table is a declarative capability table keyed by platform version range
type Table []Rule

// Resolve returns the rule with the highest MinVersion not above version.
// A version below every rule resolves to the zero Rule (nothing required).
func (t Table) Resolve(version int) Rule {
	rules := make(Table, len(t))
	copy(rules, t)
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].MinVersion < rules[j].MinVersion
	})

	var picked Rule
	for _, r := range rules {
		if r.MinVersion > version {
			break
		}
		picked = r
	}
	return picked
}

const (
	androidFineLocation     = "android.permission.ACCESS_FINE_LOCATION"
	androidBluetoothScan    = "android.permission.BLUETOOTH_SCAN"
	androidBluetoothConnect = "android.permission.BLUETOOTH_CONNECT"
	androidBluetoothAdv     = "android.permission.BLUETOOTH_ADVERTISE"

	// AndroidS is the API level that split Bluetooth permissions out of location
	AndroidS = 31
)

// AndroidTable mirrors the runtime permission model of Android hosts
var AndroidTable = Table{
	{
		MinVersion: 0,
		Scan: Effect{
			Check:   androidFineLocation,
			Request: []string{androidFineLocation},
		},
	},
	{
		MinVersion: AndroidS,
		Scan: Effect{
			Check:   androidBluetoothScan,
			Request: []string{androidBluetoothScan, androidBluetoothConnect, androidFineLocation},
		},
		Advertise: Effect{
			Check:   androidBluetoothAdv,
			Request: []string{androidBluetoothAdv, androidBluetoothConnect},
		},
	},
}

// LinuxTable requires the capabilities raw HCI sockets need
var LinuxTable = Table{
	{
		MinVersion: 0,
		Scan: Effect{
			Check:   "CAP_NET_ADMIN",
			Request: []string{"CAP_NET_ADMIN", "CAP_NET_RAW"},
		},
		Advertise: Effect{
			Check:   "CAP_NET_ADMIN",
			Request: []string{"CAP_NET_ADMIN", "CAP_NET_RAW"},
		},
	},
}

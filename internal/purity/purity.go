// Package purity implements the hot-loop network purity audit
// (spec.md §5, §7): when enabled, every attempted socket dial and DNS
// lookup during a run is counted and blocked, and Guard raises a
// PurityViolation if any were attempted.
//
// The guard shape — count violations, then raise only if they exceed
// an allowed threshold — follows the same pattern as the calibration
// benchmark's false-accept-rate guard: tally first, compare once at
// the end, never mid-loop. Here the threshold is fixed at zero: the
// hot loop's contract is no network syscalls at all between the first
// and last frame.
package purity

import (
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/latchvision/latchvision/internal/errs"
)

// Monitor counts attempted network operations. The zero value is ready
// to use; New is equivalent to &Monitor{}.
type Monitor struct {
	sockets atomic.Int64
	dns     atomic.Int64
}

// New returns a Monitor with both counters at zero.
func New() *Monitor {
	return &Monitor{}
}

// Control implements the net.Dialer.Control hook signature. Installed
// on a Dialer, it runs synchronously before every dial: it counts the
// attempt and refuses the connection, so an accidental network call in
// the hot loop fails loudly instead of succeeding silently.
func (m *Monitor) Control(network, address string, _ syscall.RawConn) error {
	m.sockets.Add(1)
	if isDNSAddress(network, address) {
		m.dns.Add(1)
	}
	return errUnavailable{network: network, address: address}
}

func isDNSAddress(network, address string) bool {
	_ = network
	return strings.HasSuffix(address, ":53")
}

type errUnavailable struct {
	network, address string
}

func (e errUnavailable) Error() string {
	return "purity: network access blocked during hot loop (" + e.network + " " + e.address + ")"
}

// Sockets returns the number of attempted dials seen so far.
func (m *Monitor) Sockets() int { return int(m.sockets.Load()) }

// DNS returns the number of attempted DNS-port dials seen so far.
func (m *Monitor) DNS() int { return int(m.dns.Load()) }

// Summary is the purity block reported in metrics.json.
type Summary struct {
	SocketsBlocked int `json:"sockets_blocked"`
	DNSBlocked     int `json:"dns_blocked"`
}

// Report returns the end-of-run summary.
func (m *Monitor) Report() Summary {
	return Summary{SocketsBlocked: m.Sockets(), DNSBlocked: m.DNS()}
}

// Guard raises a PurityViolation if any network attempt was recorded.
// The hot-loop contract allows exactly zero, so the threshold here is
// not configurable the way the benchmark false-accept-rate guard's is.
func (m *Monitor) Guard() error {
	if m.Sockets() == 0 {
		return nil
	}
	return errs.PurityViolation(formatViolation(m.Sockets(), m.DNS()))
}

func formatViolation(sockets, dns int) string {
	return "network syscalls recorded in hot loop: sockets=" + strconv.Itoa(sockets) + " dns=" + strconv.Itoa(dns)
}

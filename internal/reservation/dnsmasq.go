// Package reservation maintains the dnsmasq static lease file that pins a
// device's MAC address to its IP address.
package reservation

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"thinfleet/pkg/fsutil"
	"thinfleet/pkg/models"
)

const hostPrefix = "dhcp-host="

// writeMu serializes rewrites of reservation files within the process
var writeMu sync.Mutex

// Entry is a single dhcp-host reservation
type Entry struct {
	MAC   string
	IP    string
	Lease string
}

// String renders the entry as a dnsmasq dhcp-host line
func (e Entry) String() string {
	return fmt.Sprintf("%s%s,%s,%s", hostPrefix, e.MAC, e.IP, e.Lease)
}

// Table is a dnsmasq reservation file followed by a reload of the service
type Table struct {
	path     string
	lease    string
	reloader Reloader
}

// NewTable creates a reservation table stored at path. A nil reloader skips the reload signal.
func NewTable(path, lease string, reloader Reloader) *Table {
	return &Table{path: path, lease: lease, reloader: reloader}
}

// Reserve updates the line holding mac, or appends one, and signals the reload.
// A reload that failed earlier is retried even when the line is unchanged.
// Write failures wrap models.ErrIO; reload failures wrap models.ErrExternalEffect.
func (t *Table) Reserve(ctx context.Context, mac, ip string) error {
	entry := Entry{MAC: strings.ToLower(mac), IP: ip, Lease: t.lease}

	changed, err := t.write(entry)
	if err != nil {
		return err
	}
	if changed {
		log.Info().Str("mac", entry.MAC).Str("ip", ip).Str("file", t.path).Msg("Reservation written")
	}

	if t.reloader == nil {
		return nil
	}
	if !changed && !t.reloadPending() {
		log.Debug().Str("mac", entry.MAC).Str("ip", ip).Msg("Reservation already up to date")
		return nil
	}
	return t.reload(ctx)
}

// pendingPath marks a written file whose reload has not succeeded yet. The
// leading dot keeps dnsmasq from reading it as part of its conf-dir.
func (t *Table) pendingPath() string {
	return filepath.Join(filepath.Dir(t.path), "."+filepath.Base(t.path)+".reload-pending")
}

func (t *Table) reloadPending() bool {
	ok, err := fsutil.Exists(t.pendingPath())
	return ok || err != nil
}

func (t *Table) reload(ctx context.Context) error {
	marker := t.pendingPath()
	if err := fsutil.WriteFile(marker, nil, 0644); err != nil {
		log.Warn().Err(err).Str("file", marker).Msg("Failed to record pending reload")
	}

	if err := t.reloader.Reload(ctx); err != nil {
		return err
	}

	if _, err := fsutil.RemoveIfExists(marker); err != nil {
		log.Warn().Err(err).Str("file", marker).Msg("Failed to clear pending reload")
	}
	return nil
}

// Entries returns the reservations currently in the file
func (t *Table) Entries() ([]Entry, error) {
	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.path, models.ErrIO)
	}

	var entries []Entry
	for _, line := range splitLines(data) {
		if e, ok := parseLine(line); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (t *Table) write(entry Entry) (bool, error) {
	writeMu.Lock()
	defer writeMu.Unlock()

	data, err := os.ReadFile(t.path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("read %s: %v: %w", t.path, err, models.ErrIO)
	}

	lines := splitLines(data)
	replaced := false
	for i, line := range lines {
		e, ok := parseLine(line)
		if !ok || e.MAC != entry.MAC {
			continue
		}
		if line == entry.String() {
			return false, nil
		}
		lines[i] = entry.String()
		replaced = true
		break
	}
	if !replaced {
		lines = append(lines, entry.String())
	}

	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}

	if err := fsutil.WriteFile(t.path, buf.Bytes(), 0644); err != nil {
		return false, fmt.Errorf("write %s: %v: %w", t.path, err, models.ErrIO)
	}
	return true, nil
}

func splitLines(data []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

// parseLine extracts the reservation from a dhcp-host line. The MAC is the
// first comma separated field that parses as a hardware address, so tags and
// client ids in front of it are tolerated.
func parseLine(line string) (Entry, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, hostPrefix) {
		return Entry{}, false
	}

	fields := strings.Split(strings.TrimPrefix(line, hostPrefix), ",")
	for i, f := range fields {
		hw, err := net.ParseMAC(strings.TrimSpace(f))
		if err != nil || len(hw) != 6 {
			continue
		}
		e := Entry{MAC: hw.String()}
		rest := fields[i+1:]
		if len(rest) > 0 {
			e.IP = strings.TrimSpace(rest[0])
		}
		if len(rest) > 1 {
			e.Lease = strings.TrimSpace(rest[len(rest)-1])
		}
		return e, true
	}
	return Entry{}, false
}

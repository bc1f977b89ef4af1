// ABOUTME: Tests for mDNS discovery
// ABOUTME: Entry parsing, TXT records and manager validation
package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
)

func TestRecords(t *testing.T) {
	m := NewManager(Config{ServiceName: "Living Room", Port: 8927, TXT: []string{"version=1.0"}})
	recs := m.Records()
	if len(recs) != 2 || recs[0] != "path=/monitor" || recs[1] != "version=1.0" {
		t.Errorf("unexpected records %v", recs)
	}
}

func TestAdvertiseNeedsNameAndPort(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"no name", Config{Port: 8927}},
		{"no port", Config{ServiceName: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewManager(tt.config).Advertise(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestStopWithoutAdvertise(t *testing.T) {
	m := NewManager(Config{ServiceName: "x", Port: 1})
	m.Stop()
	m.Stop()
}

func TestFromEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry *mdns.ServiceEntry
		ok    bool
		want  MonitorInfo
	}{
		{
			name: "ipv4 with path",
			entry: &mdns.ServiceEntry{
				Name:       "Living Room._audiopipe._tcp.local.",
				AddrV4:     net.IPv4(192, 168, 1, 20),
				Port:       8927,
				InfoFields: []string{"path=/monitor", "version=1.0"},
			},
			ok:   true,
			want: MonitorInfo{Name: "Living Room", Host: "192.168.1.20", Port: 8927, Path: "/monitor"},
		},
		{
			name: "host fallback",
			entry: &mdns.ServiceEntry{
				Name: "desk._audiopipe._tcp.local.",
				Host: "desk.local.",
				Port: 9000,
			},
			ok:   true,
			want: MonitorInfo{Name: "desk", Host: "desk.local", Port: 9000, Path: "/monitor"},
		},
		{
			name:  "other service",
			entry: &mdns.ServiceEntry{Name: "printer._ipp._tcp.local.", AddrV4: net.IPv4(10, 0, 0, 1), Port: 631},
		},
		{
			name:  "no port",
			entry: &mdns.ServiceEntry{Name: "x._audiopipe._tcp.local.", AddrV4: net.IPv4(10, 0, 0, 1)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := fromEntry(tt.entry)
			if ok != tt.ok {
				t.Fatalf("expected ok %v, got %v", tt.ok, ok)
			}
			if !ok {
				return
			}
			if got.Name != tt.want.Name || got.Host != tt.want.Host || got.Port != tt.want.Port || got.Path != tt.want.Path {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestMonitorURL(t *testing.T) {
	i := MonitorInfo{Host: "192.168.1.20", Port: 8927, Path: "/monitor"}
	if got, want := i.URL(), "ws://192.168.1.20:8927/monitor"; got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestDedupe(t *testing.T) {
	a := MonitorInfo{Host: "10.0.0.1", Port: 1, Path: "/monitor"}
	b := MonitorInfo{Host: "10.0.0.2", Port: 1, Path: "/monitor"}
	got := dedupe([]MonitorInfo{a, b, a})
	if len(got) != 2 {
		t.Errorf("expected 2 monitors, got %d", len(got))
	}
}

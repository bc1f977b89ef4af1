// ABOUTME: mDNS advertisement and browsing for pipeline monitors
// ABOUTME: Publishes _audiopipe._tcp with the monitor path in TXT records
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the DNS-SD type of a monitor.
const ServiceType = "_audiopipe._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	TXT         []string // extra key=value records
	Logger      *slog.Logger
}

// Manager advertises one service until stopped.
type Manager struct {
	config Config
	logger *slog.Logger

	mu     sync.Mutex
	server *mdns.Server
}

// MonitorInfo describes a discovered monitor
type MonitorInfo struct {
	Name string
	Host string
	Port int
	Path string
	TXT  map[string]string
}

// URL returns the websocket address of the monitor.
func (i MonitorInfo) URL() string {
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(i.Host, fmt.Sprint(i.Port)), i.Path)
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Manager{
		config: config,
		logger: config.Logger.With(slog.String("component", "discovery")),
	}
}

// Records returns the TXT records advertised.
func (m *Manager) Records() []string {
	return append([]string{"path=/monitor"}, m.config.TXT...)
}

// Advertise starts answering mDNS queries for this monitor.
func (m *Manager) Advertise() error {
	if m.config.ServiceName == "" || m.config.Port <= 0 {
		return fmt.Errorf("advertise needs a name and port, got %q:%d", m.config.ServiceName, m.config.Port)
	}
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		m.Records(),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.mu.Lock()
	if m.server != nil {
		m.server.Shutdown()
	}
	m.server = server
	m.mu.Unlock()

	m.logger.Info("advertising mDNS service", "name", m.config.ServiceName,
		"port", m.config.Port, "type", ServiceType)
	return nil
}

// Stop withdraws the advertisement.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		if err := m.server.Shutdown(); err != nil {
			m.logger.Warn("mdns shutdown", "error", err)
		}
		m.server = nil
	}
}

// Browse queries the local network for monitors for up to timeout.
func Browse(ctx context.Context, timeout time.Duration) ([]MonitorInfo, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	var found []MonitorInfo
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			if info, ok := fromEntry(entry); ok {
				found = append(found, info)
			}
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	errCh := make(chan error, 1)
	go func() {
		errCh <- mdns.Query(params)
		close(entries)
	}()

	select {
	case err := <-errCh:
		<-done
		if err != nil {
			return found, fmt.Errorf("mdns query: %w", err)
		}
		return dedupe(found), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func fromEntry(e *mdns.ServiceEntry) (MonitorInfo, bool) {
	if e == nil || !strings.Contains(e.Name, ServiceType) {
		return MonitorInfo{}, false
	}
	info := MonitorInfo{
		Name: strings.TrimSuffix(strings.Split(e.Name, "."+ServiceType)[0], "."),
		Port: e.Port,
		Path: "/monitor",
		TXT:  parseTXT(e.InfoFields),
	}
	switch {
	case e.AddrV4 != nil:
		info.Host = e.AddrV4.String()
	case e.AddrV6 != nil:
		info.Host = e.AddrV6.String()
	default:
		info.Host = strings.TrimSuffix(e.Host, ".")
	}
	if p, ok := info.TXT["path"]; ok && p != "" {
		info.Path = p
	}
	return info, info.Host != "" && info.Port > 0
}

func parseTXT(fields []string) map[string]string {
	txt := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, _ := strings.Cut(f, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}

func dedupe(in []MonitorInfo) []MonitorInfo {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, i := range in {
		key := i.URL()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, i)
	}
	return out
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}
	if len(ips) == 0 {
		return nil, errors.New("no usable network interface")
	}
	return ips, nil
}

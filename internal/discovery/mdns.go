// ABOUTME: mDNS service discovery for WarpSong relays
// ABOUTME: Relays advertise themselves; participants browse for a relay to join through
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/warpsong/warpsong-go/internal/version"
)

// ServiceType is the mDNS service a relay advertises
const ServiceType = "_warpsong-relay._tcp"

// ErrNoRelay is returned by Await when browsing finds nothing in time
var ErrNoRelay = errors.New("no relay found")

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	// Path is the real-time channel path published in the TXT record
	Path string
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc
	relays chan *RelayInfo
}

// RelayInfo describes a discovered relay
type RelayInfo struct {
	Name    string
	Host    string
	Port    int
	Path    string
	Version string
}

// BaseURL is the HTTP base of the relay's collaborator API
func (r *RelayInfo) BaseURL() string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(r.Host, fmt.Sprint(r.Port)))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.Path == "" {
		config.Path = "/ws"
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config: config,
		ctx:    ctx,
		cancel: cancel,
		relays: make(chan *RelayInfo, 10),
	}
}

// Advertise publishes this relay via mDNS until Stop
func (m *Manager) Advertise() error {
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
		m.txtRecords(),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", m.config.ServiceName, m.config.Port, ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

func (m *Manager) txtRecords() []string {
	return []string{
		"path=" + m.config.Path,
		"version=" + version.Version,
		"product=" + version.Product,
	}
}

// Browse searches for relays until Stop
func (m *Manager) Browse() {
	go m.browseLoop()
}

// browseLoop re-queries every few seconds
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				relay, ok := relayFromEntry(entry)
				if !ok {
					continue
				}

				log.Printf("Discovered relay: %s at %s:%d", relay.Name, relay.Host, relay.Port)

				select {
				case m.relays <- relay:
				case <-m.ctx.Done():
				}
			}
		}()

		params := mdns.DefaultParams(ServiceType)
		params.Entries = entries
		params.Timeout = 3 * time.Second
		params.DisableIPv6 = true
		if err := mdns.Query(params); err != nil {
			log.Printf("mDNS query failed: %v", err)
		}
		close(entries)
		<-done

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// relayFromEntry converts a browse result; entries without an address are skipped
func relayFromEntry(entry *mdns.ServiceEntry) (*RelayInfo, bool) {
	if entry == nil || entry.Port <= 0 {
		return nil, false
	}

	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	default:
		return nil, false
	}

	relay := &RelayInfo{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Host: host,
		Port: entry.Port,
		Path: "/ws",
	}
	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "path":
			relay.Path = value
		case "version":
			relay.Version = value
		}
	}
	return relay, true
}

// Relays returns the channel of discovered relays
func (m *Manager) Relays() <-chan *RelayInfo {
	return m.relays
}

// Await browses until the first relay is found or ctx ends
func (m *Manager) Await(ctx context.Context) (*RelayInfo, error) {
	m.Browse()
	select {
	case relay := <-m.relays:
		return relay, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNoRelay, ctx.Err())
	case <-m.ctx.Done():
		return nil, ErrNoRelay
	}
}

// Stop stops advertising and browsing
func (m *Manager) Stop() {
	m.cancel()
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
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}

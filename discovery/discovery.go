// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package discovery advertises the power manager on the local network via
// mDNS (multicast DNS) and finds other instances.
//
// # Service
//
// Instances register the service type "_printerpower._tcp" with TXT records:
//   - id: instance identifier
//   - api: base path of the HTTP API
//   - ws: path of the notification websocket
//   - state: last known printer power state ("off", "on" or "unknown")
//
// The state record is refreshed whenever the controller sends a power state
// notification, so clients can show the printer state without connecting.
//
// # Example Usage
//
//	adv, err := discovery.Advertise(discovery.Config{Instance: "octopi", Port: 8080})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer adv.Shutdown()
//
//	instances, err := discovery.Discover(ctx, discovery.ServiceType, "local.", 5*time.Second)
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"

	"github.com/soothill/printer-power-manager/pkg/errors"
	"github.com/soothill/printer-power-manager/pkg/interfaces"
	"github.com/soothill/printer-power-manager/pkg/logger"
	"github.com/soothill/printer-power-manager/power"
)

const (
	// ServiceType is the DNS-SD service type of the power manager.
	ServiceType = "_printerpower._tcp"

	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
)

// Config describes the advertised service.
type Config struct {
	Instance string
	Domain   string
	Port     int
	APIPath  string
	WSPath   string
}

// Instance is a power manager found on the network.
type Instance struct {
	Name      string
	Address   net.IP
	Port      int
	TXTRecord map[string]string
	Hostname  string
}

// ID returns the advertised id, or address:port when none is set.
func (i *Instance) ID() string {
	if i.TXTRecord != nil {
		if id, ok := i.TXTRecord["id"]; ok && id != "" {
			return id
		}
	}
	return fmt.Sprintf("%s:%d", i.Address.String(), i.Port)
}

// State returns the advertised power state.
func (i *Instance) State() string {
	if s, ok := i.TXTRecord["state"]; ok && s != "" {
		return s
	}
	return strings.ToLower(power.Unknown.String())
}

type registration interface {
	SetText(text []string)
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (registration, error)

func zeroconfRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface) (registration, error) {
	return zeroconf.Register(instance, service, domain, port, text, ifaces)
}

// Advertiser keeps the mDNS registration up to date. It implements
// interfaces.Notifier so it can be fed the controller's notifications.
type Advertiser struct {
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	server registration
	state  power.State
}

// Advertise registers the service on all interfaces.
func Advertise(cfg Config) (*Advertiser, error) {
	return advertise(cfg, zeroconfRegister)
}

func advertise(cfg Config, register registerFunc) (*Advertiser, error) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, errors.NewValidationError("port", cfg.Port, "must be between 1 and 65535")
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if cfg.Instance == "" {
		cfg.Instance = "printer-power-manager"
	}

	a := &Advertiser{
		cfg:   cfg,
		state: power.Unknown,
		log:   logger.Component("discovery"),
	}

	server, err := register(cfg.Instance, ServiceType, cfg.Domain, cfg.Port, a.text(), nil)
	if err != nil {
		return nil, errors.NewNetworkError("mdns register", fmt.Sprintf(":%d", cfg.Port), err)
	}
	a.server = server

	a.log.Info().
		Str("instance", cfg.Instance).
		Str("service", ServiceType).
		Int("port", cfg.Port).
		Msg("Advertising service via mDNS")
	return a, nil
}

// text builds the TXT records. Callers hold a.mu or own a exclusively.
func (a *Advertiser) text() []string {
	txt := []string{
		"id=" + a.cfg.Instance,
		"state=" + strings.ToLower(a.state.String()),
	}
	if a.cfg.APIPath != "" {
		txt = append(txt, "api="+a.cfg.APIPath)
	}
	if a.cfg.WSPath != "" {
		txt = append(txt, "ws="+a.cfg.WSPath)
	}
	return txt
}

// Notify updates the advertised state on power state notifications.
func (a *Advertiser) Notify(msg interfaces.Message) {
	if msg.Type != interfaces.MessagePowerUpdate || msg.PState == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	state := power.State(*msg.PState)
	if a.server == nil || state == a.state {
		return
	}
	a.state = state
	a.server.SetText(a.text())
	a.log.Debug().Stringer("state", state).Msg("Updated mDNS state record")
}

// Shutdown withdraws the registration.
func (a *Advertiser) Shutdown() {
	a.mu.Lock()
	server := a.server
	a.server = nil
	a.mu.Unlock()

	if server != nil {
		server.Shutdown()
		a.log.Info().Msg("mDNS advertisement withdrawn")
	}
}

// Discover browses for power managers until timeout or ctx ends.
func Discover(ctx context.Context, service, domain string, timeout time.Duration) ([]*Instance, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	// Buffered so a slow consumer does not stall the resolver.
	entries := make(chan *zeroconf.ServiceEntry, 10)
	found := make(map[string]*Instance)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			inst := parseServiceEntry(entry)
			if inst == nil {
				continue
			}
			found[inst.ID()] = inst
			logger.Info().
				Str("id", inst.ID()).
				Str("address", inst.Address.String()).
				Int("port", inst.Port).
				Str("state", inst.State()).
				Msg("Discovered power manager")
		}
	}()

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := resolver.Browse(browseCtx, service, domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse: %w", err)
	}

	<-browseCtx.Done()
	wg.Wait()

	instances := make([]*Instance, 0, len(found))
	for _, inst := range found {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID() < instances[j].ID() })
	return instances, nil
}

func parseServiceEntry(entry *zeroconf.ServiceEntry) *Instance {
	if entry == nil {
		return nil
	}
	if len(entry.AddrIPv4) == 0 && len(entry.AddrIPv6) == 0 {
		return nil
	}

	var addr net.IP
	if len(entry.AddrIPv4) > 0 {
		addr = entry.AddrIPv4[0]
	} else {
		addr = entry.AddrIPv6[0]
	}

	return &Instance{
		Name:      entry.Instance,
		Address:   addr,
		Port:      entry.Port,
		TXTRecord: parseTXT(entry.Text),
		Hostname:  entry.HostName,
	}
}

func parseTXT(records []string) map[string]string {
	txt := make(map[string]string, len(records))
	for _, r := range records {
		parts := strings.SplitN(r, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		}
	}
	return txt
}

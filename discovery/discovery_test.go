// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package discovery

import (
	"context"
	stderrors "errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/soothill/printer-power-manager/pkg/errors"
	"github.com/soothill/printer-power-manager/pkg/interfaces"
)

type fakeRegistration struct {
	texts    [][]string
	shutdown int
}

func (f *fakeRegistration) SetText(text []string) { f.texts = append(f.texts, text) }
func (f *fakeRegistration) Shutdown()             { f.shutdown++ }

func fakeRegister(reg *fakeRegistration, got *[]string) registerFunc {
	return func(instance, service, domain string, port int, text []string, _ []net.Interface) (registration, error) {
		*got = append([]string{instance, service, domain}, text...)
		return reg, nil
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func TestAdvertise_Registers(t *testing.T) {
	reg := &fakeRegistration{}
	var got []string

	adv, err := advertise(Config{Instance: "octopi", Port: 8080, APIPath: "/api/v1", WSPath: "/api/v1/ws"}, fakeRegister(reg, &got))
	if err != nil {
		t.Fatalf("advertise() error = %v", err)
	}
	defer adv.Shutdown()

	for _, want := range []string{"octopi", ServiceType, DefaultDomain, "id=octopi", "state=unknown", "api=/api/v1", "ws=/api/v1/ws"} {
		if !contains(got, want) {
			t.Errorf("registration %v missing %q", got, want)
		}
	}
}

func TestAdvertise_InvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		_, err := advertise(Config{Port: port}, func(string, string, string, int, []string, []net.Interface) (registration, error) {
			t.Fatal("register should not be called")
			return nil, nil
		})
		if !errors.IsValidationError(err) {
			t.Errorf("port %d: expected ValidationError, got %v", port, err)
		}
	}
}

func TestAdvertise_RegisterFails(t *testing.T) {
	_, err := advertise(Config{Port: 8080}, func(string, string, string, int, []string, []net.Interface) (registration, error) {
		return nil, stderrors.New("no multicast interface")
	})
	if !errors.IsNetworkError(err) {
		t.Errorf("expected NetworkError, got %v", err)
	}
}

func TestAdvertiser_NotifyUpdatesState(t *testing.T) {
	reg := &fakeRegistration{}
	var got []string
	adv, err := advertise(Config{Instance: "octopi", Port: 8080}, fakeRegister(reg, &got))
	if err != nil {
		t.Fatalf("advertise() error = %v", err)
	}

	adv.Notify(interfaces.TimeoutMessage(30))
	adv.Notify(interfaces.CancelMessage())
	if len(reg.texts) != 0 {
		t.Fatalf("non-state messages changed TXT records: %v", reg.texts)
	}

	adv.Notify(interfaces.PowerStateMessage(1))
	adv.Notify(interfaces.PowerStateMessage(1))
	adv.Notify(interfaces.PowerStateMessage(0))

	if len(reg.texts) != 2 {
		t.Fatalf("SetText calls = %d, want 2", len(reg.texts))
	}
	if !contains(reg.texts[0], "state=on") || !contains(reg.texts[1], "state=off") {
		t.Errorf("unexpected TXT updates %v", reg.texts)
	}

	adv.Shutdown()
	adv.Shutdown()
	if reg.shutdown != 1 {
		t.Errorf("Shutdown calls = %d, want 1", reg.shutdown)
	}

	adv.Notify(interfaces.PowerStateMessage(1))
	if len(reg.texts) != 2 {
		t.Error("Notify after Shutdown must not touch the registration")
	}
}

func TestInstance_IDAndState(t *testing.T) {
	inst := &Instance{Address: net.ParseIP("192.168.1.20"), Port: 8080}
	if got := inst.ID(); got != "192.168.1.20:8080" {
		t.Errorf("ID() = %q", got)
	}
	if got := inst.State(); got != "unknown" {
		t.Errorf("State() = %q", got)
	}

	inst.TXTRecord = map[string]string{"id": "octopi", "state": "on"}
	if got := inst.ID(); got != "octopi" {
		t.Errorf("ID() = %q", got)
	}
	if got := inst.State(); got != "on" {
		t.Errorf("State() = %q", got)
	}
}

func TestParseServiceEntry(t *testing.T) {
	if parseServiceEntry(nil) != nil {
		t.Error("nil entry should parse to nil")
	}

	entry := zeroconf.NewServiceEntry("octopi", ServiceType, DefaultDomain)
	if parseServiceEntry(entry) != nil {
		t.Error("entry without addresses should parse to nil")
	}

	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	entry.Port = 8080
	entry.HostName = "octopi.local."
	entry.Text = []string{"id=octopi", "state=off", "malformed"}

	inst := parseServiceEntry(entry)
	if inst == nil {
		t.Fatal("expected instance")
	}
	if !inst.Address.Equal(net.ParseIP("fe80::1")) {
		t.Errorf("Address = %v", inst.Address)
	}
	if inst.ID() != "octopi" || inst.State() != "off" {
		t.Errorf("unexpected instance %+v", inst)
	}
	if _, ok := inst.TXTRecord["malformed"]; ok {
		t.Error("record without '=' should be skipped")
	}

	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	if got := parseServiceEntry(entry).Address.String(); got != "192.168.1.20" {
		t.Errorf("IPv4 should be preferred, got %s", got)
	}
}

func TestDiscover_Timeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	ctx := context.Background()
	start := time.Now()
	instances, err := Discover(ctx, "_nonexistent._tcp", DefaultDomain, 100*time.Millisecond)
	if err != nil {
		t.Skipf("mDNS unavailable: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Discover() took %v", elapsed)
	}
	if len(instances) != 0 {
		t.Errorf("expected no instances, got %d", len(instances))
	}
}

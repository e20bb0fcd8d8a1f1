// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package power

import (
	"context"
	"strconv"
	"sync"

	"github.com/soothill/printer-power-manager/pkg/interfaces"
)

type fakeSettings struct {
	mu     sync.Mutex
	local  map[string]any
	global map[string]any
	saves  int
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{
		local: map[string]any{
			interfaces.SettingTimeoutMinutes:         15,
			interfaces.SettingPowerupCommand:         "gpio write 7 1",
			interfaces.SettingPowerdownCommand:       "gpio write 7 0",
			interfaces.SettingPowerManagementEnabled: true,
		},
		global: map[string]any{
			interfaces.GlobalShutdownCommand: "gpio write 7 0",
		},
	}
}

func (f *fakeSettings) GetInt(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := f.local[key].(type) {
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func (f *fakeSettings) GetString(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, _ := f.local[key].(string)
	return s
}

func (f *fakeSettings) GetBool(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := f.local[key].(bool)
	return b
}

func (f *fakeSettings) Set(key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local[key] = value
	return nil
}

func (f *fakeSettings) GlobalGetString(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, _ := f.global[key].(string)
	return s
}

func (f *fakeSettings) GlobalSet(key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.global[key] = value
	return nil
}

func (f *fakeSettings) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return nil
}

func (f *fakeSettings) Snapshot() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]any, len(f.local))
	for k, v := range f.local {
		out[k] = v
	}
	return out
}

func (f *fakeSettings) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

type fakeExecutor struct {
	mu   sync.Mutex
	err  error
	cmds []string
}

func (f *fakeExecutor) Dispatch(cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return f.err
}

func (f *fakeExecutor) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

type fakeProbe struct {
	out string
	err error
}

func (f fakeProbe) Probe(context.Context) (string, error) {
	return f.out, f.err
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []interfaces.Message
}

func (r *recordingNotifier) Notify(msg interfaces.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingNotifier) ofType(typ string) []interfaces.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interfaces.Message
	for _, m := range r.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type fakeComm struct {
	mu          sync.Mutex
	resets      int
	operational int
}

func (f *fakeComm) ResetConnection() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func (f *fakeComm) MarkOperational() {
	f.mu.Lock()
	f.operational++
	f.mu.Unlock()
}

func (f *fakeComm) counts() (resets, operational int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets, f.operational
}

type fakeRecorder struct {
	mu          sync.Mutex
	transitions []interfaces.Transition
}

func (f *fakeRecorder) RecordTransition(t interfaces.Transition) {
	f.mu.Lock()
	f.transitions = append(f.transitions, t)
	f.mu.Unlock()
}

func (f *fakeRecorder) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, t := range f.transitions {
		out = append(out, t.Kind)
	}
	return out
}

type fakeAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (f *fakeAlerter) SendAlert(_ context.Context, _, title, _ string) error {
	f.mu.Lock()
	f.titles = append(f.titles, title)
	f.mu.Unlock()
	return nil
}

func (f *fakeAlerter) IsEnabled() bool { return true }

func (f *fakeAlerter) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.titles...)
}

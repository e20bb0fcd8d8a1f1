// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package power

import (
	"context"
	"fmt"

	"github.com/soothill/printer-power-manager/pkg/errors"
	"github.com/soothill/printer-power-manager/pkg/metrics"
)

// API commands.
const (
	CmdEnableManagement  = "enable_power_management"
	CmdDisableManagement = "disable_power_management"
	CmdPowerOn           = "power_on_printer"
	CmdPowerOff          = "power_off_printer"
	CmdAbortPowerOff     = "abort_power_off"
	CmdResetPowerOff     = "reset_power_off"
	CmdGetPowerState     = "get_printer_power_state"
	CmdGetManagement     = "get_power_management_state"
)

// Commands lists every command accepted by Command.
var Commands = []string{
	CmdEnableManagement,
	CmdDisableManagement,
	CmdPowerOn,
	CmdPowerOff,
	CmdAbortPowerOff,
	CmdResetPowerOff,
	CmdGetPowerState,
	CmdGetManagement,
}

// StateResponse answers get_printer_power_state.
type StateResponse struct {
	State int `json:"state"`
}

// ManagementResponse answers get_power_management_state.
type ManagementResponse struct {
	IsEnabled bool `json:"isEnabled"`
}

// Command runs an API command on the worker. Commands without a result
// return nil. Unknown commands return errors.ErrUnknownCommand.
func (c *Controller) Command(ctx context.Context, name string) (any, error) {
	handler, ok := c.commandHandler(name)
	if !ok {
		metrics.APICommands.WithLabelValues("unknown").Inc()
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownCommand, name)
	}
	metrics.APICommands.WithLabelValues(name).Inc()
	return c.submit(ctx, func() (any, error) {
		c.log.Info().Str("command", name).Msg("Command received")
		return handler(), nil
	})
}

func (c *Controller) commandHandler(name string) (func() any, bool) {
	switch name {
	case CmdEnableManagement:
		return func() any {
			c.setEnabled(true)
			if c.state == On {
				c.timer.Start()
			}
			return nil
		}, true
	case CmdDisableManagement:
		return func() any {
			c.setEnabled(false)
			c.timer.Cancel()
			return nil
		}, true
	case CmdPowerOn:
		return func() any {
			if c.state == Off {
				c.powerUp(name)
			}
			return nil
		}, true
	case CmdPowerOff:
		return func() any {
			if c.state == On {
				c.powerDown(name)
			}
			return nil
		}, true
	case CmdAbortPowerOff:
		return func() any {
			c.timer.Cancel()
			c.log.Info().Msg("Power-off aborted")
			return nil
		}, true
	case CmdResetPowerOff:
		return func() any {
			c.timer.Reset()
			return nil
		}, true
	case CmdGetPowerState:
		return func() any {
			return StateResponse{State: int(c.state)}
		}, true
	case CmdGetManagement:
		return func() any {
			return ManagementResponse{IsEnabled: c.enabled}
		}, true
	default:
		return nil, false
	}
}

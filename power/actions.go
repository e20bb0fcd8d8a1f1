// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package power

import (
	"time"

	"github.com/soothill/printer-power-manager/pkg/errors"
	"github.com/soothill/printer-power-manager/pkg/interfaces"
	"github.com/soothill/printer-power-manager/pkg/metrics"
)

const (
	actionPowerUp   = "power_up"
	actionPowerDown = "power_down"
)

// powerDown dispatches the global shutdown command.
func (c *Controller) powerDown(source string) {
	cmd := c.settings.GlobalGetString(interfaces.GlobalShutdownCommand)
	c.dispatch(actionPowerDown, cmd, interfaces.GlobalShutdownCommand, interfaces.EventPoweredOff, source)
}

// powerUp dispatches the local power-up command.
func (c *Controller) powerUp(source string) {
	cmd := c.settings.GetString(interfaces.SettingPowerupCommand)
	c.dispatch(actionPowerUp, cmd, interfaces.SettingPowerupCommand, interfaces.EventPoweredOn, source)
}

// dispatch starts cmd without waiting for it and publishes confirm once the
// command has started. A failure to start is logged and alerted; the power
// state is left for the hardware to confirm.
func (c *Controller) dispatch(action, cmd, settingKey, confirm, source string) {
	if cmd == "" {
		c.log.Error().
			Err(errors.NewConfigError(settingKey, "", errors.ErrEmptyCommand)).
			Str("action", action).
			Msg("Power command not configured")
		return
	}

	c.log.Info().Str("action", action).Str("command", cmd).Str("source", source).Msg("Dispatching power command")
	metrics.DispatchTotal.WithLabelValues(action).Inc()

	from := int(c.state)
	c.background.Add(1)
	go func() {
		defer c.background.Done()

		if err := c.executor.Dispatch(cmd); err != nil {
			derr := errors.NewDispatchError(action, cmd, err)
			metrics.DispatchErrors.WithLabelValues(action).Inc()
			c.log.Error().Err(derr).Msg("Power command failed to start")
			c.alert("error", "Printer power command failed", derr.Error())
			return
		}

		c.recorder.RecordTransition(interfaces.Transition{
			Time:    time.Now(),
			Kind:    interfaces.TransitionDispatch,
			From:    from,
			To:      int(confirmState(confirm)),
			Source:  source,
			Command: cmd,
		})
		c.publish(confirm)
	}()
}

func confirmState(event string) State {
	if event == interfaces.EventPoweredOn {
		return On
	}
	return Off
}

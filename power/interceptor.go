// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package power

import (
	"context"

	"github.com/soothill/printer-power-manager/gcode"
	"github.com/soothill/printer-power-manager/pkg/metrics"
)

// Intercept inspects a G-code line bound for the printer. M80 and M81 trigger
// the power-up and power-down actions and are replaced with a harmless
// directive; every other line is returned unchanged.
func (c *Controller) Intercept(ctx context.Context, line string) string {
	code := gcode.CodeOf(line)

	var replacement, direction string
	var action func(string)
	switch code {
	case gcode.PowerOn:
		replacement, direction, action = c.powerOnReplacement, "up", c.powerUp
	case gcode.PowerOff:
		replacement, direction, action = c.powerOffReplacement, "down", c.powerDown
	default:
		return line
	}

	metrics.GCodeIntercepts.WithLabelValues(code).Inc()
	_, err := c.submit(ctx, func() (any, error) {
		c.log.Info().Str("gcode", code).Str("replacement", replacement).Msgf("Intercepting G-code. Powering %s printer", direction)
		action("gcode " + code)
		return nil, nil
	})
	if err != nil {
		c.log.Error().Err(err).Str("gcode", code).Msg("Intercepted G-code not handled")
	}
	return replacement
}

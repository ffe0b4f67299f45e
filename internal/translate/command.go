package translate

import "math"

// LowerCommand translates an assistant command into a gateway command
// payload. ok is false when no trait matches cmd.Name, which the
// fulfillment handler reports as ERROR/notSupported.
func LowerCommand(cmd AssistantCommand) (GatewayPayload, bool) {
	switch cmd.Name {
	case "OnOff":
		on, _ := cmd.Params["on"].(bool)
		if on {
			return GatewayPayload{"status": "on"}, true
		}
		return GatewayPayload{"status": "off"}, true

	case "BrightnessAbsolute":
		pct, ok := numericValue(cmd.Params["brightness"])
		if !ok {
			return nil, false
		}
		level := int(math.Round(pct * 2.55))
		return GatewayPayload{"level": level}, true

	case "ColorAbsolute":
		return lowerColorAbsolute(cmd.Params)

	case "OpenClose":
		pct, ok := numericValue(cmd.Params["openPercent"])
		if !ok {
			return nil, false
		}
		return GatewayPayload{"position": clampPercent(pct)}, true

	case "LockUnlock":
		lock, _ := cmd.Params["lock"].(bool)
		if lock {
			return GatewayPayload{"state": "LOCK"}, true
		}
		return GatewayPayload{"state": "UNLOCK"}, true

	case "ThermostatTemperatureSetpoint":
		setpoint, ok := numericValue(cmd.Params["thermostatTemperatureSetpoint"])
		if !ok {
			return nil, false
		}
		return GatewayPayload{"setpoint": setpoint}, true

	case "ThermostatSetMode":
		mode, ok := cmd.Params["thermostatMode"].(string)
		if !ok {
			return nil, false
		}
		return GatewayPayload{"mode": mode}, true

	default:
		return nil, false
	}
}

func lowerColorAbsolute(params map[string]any) (GatewayPayload, bool) {
	color, ok := params["color"].(map[string]any)
	if !ok {
		return nil, false
	}
	if rgb, ok := numericValue(color["spectrumRgb"]); ok {
		packed := int(rgb)
		r := (packed >> 16) & 0xFF
		g := (packed >> 8) & 0xFF
		b := packed & 0xFF
		return GatewayPayload{"color": map[string]any{"r": r, "g": g, "b": b}}, true
	}
	if kelvin, ok := numericValue(color["temperatureK"]); ok {
		return GatewayPayload{"colorTemperature": int(kelvin)}, true
	}
	return nil, false
}

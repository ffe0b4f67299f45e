package translate

import "math"

// ToTraitState projects a gateway device's raw property bag onto the
// assistant's trait state for the given trait set. It always
// includes "online" (mirroring Available) and "status":"SUCCESS" — a
// device that cannot be resolved at all is handled by the caller
// (fulfillment query), not by this function.
func ToTraitState(available bool, traits []Trait, props map[string]any) TraitState {
	out := TraitState{
		"online": available,
		"status": "SUCCESS",
	}

	for _, t := range traits {
		switch t {
		case TraitOnOff:
			projectOnOff(out, props)
		case TraitBrightness:
			projectBrightness(out, props)
		case TraitColorSetting:
			projectColor(out, props)
		case TraitOpenClose:
			projectOpenClose(out, props)
		case TraitLockUnlock:
			projectLock(out, props)
		case TraitTemperatureSetting:
			projectTemperature(out, props)
		case TraitSensorState:
			projectSensor(out, props)
		}
	}

	return out
}

func projectOnOff(out TraitState, props map[string]any) {
	switch v := props["state"].(type) {
	case string:
		out["on"] = v == "ON" || v == "on"
	case bool:
		out["on"] = v
	}
	if status, ok := props["status"].(string); ok {
		out["on"] = status == "on" || status == "ON"
	}
}

func projectBrightness(out TraitState, props map[string]any) {
	raw, ok := numericValue(props["brightness"])
	if !ok {
		return
	}
	// Gateway brightness is 0-254/255; the assistant expects 0-100.
	pct := raw / 255.0 * 100.0
	out["brightness"] = int(math.Round(pct))
}

func projectColor(out TraitState, props map[string]any) {
	colorVal, ok := props["color"].(map[string]any)
	if ok {
		r, rOK := numericValue(colorVal["r"])
		g, gOK := numericValue(colorVal["g"])
		b, bOK := numericValue(colorVal["b"])
		if rOK && gOK && bOK {
			packed := (int(r)&0xFF)<<16 | (int(g)&0xFF)<<8 | (int(b) & 0xFF)
			out["color"] = map[string]any{"spectrumRgb": packed}
			return
		}
	}
	if kelvin, ok := numericValue(props["colorTemperature"]); ok {
		out["color"] = map[string]any{"temperatureK": int(kelvin)}
	}
}

func projectOpenClose(out TraitState, props map[string]any) {
	if pos, ok := numericValue(props["position"]); ok {
		out["openPercent"] = clampPercent(pos)
		return
	}
	if label, ok := props["state"].(string); ok {
		switch label {
		case "open", "OPEN":
			out["openPercent"] = 100
		case "closed", "CLOSED":
			out["openPercent"] = 0
		}
	}
}

func projectLock(out TraitState, props map[string]any) {
	if label, ok := props["state"].(string); ok {
		out["isLocked"] = label == "LOCK" || label == "locked"
	}
}

func projectTemperature(out TraitState, props map[string]any) {
	if v, ok := numericValue(props["temperature"]); ok {
		out["thermostatTemperatureAmbient"] = v
	}
	if v, ok := numericValue(props["setpoint"]); ok {
		out["thermostatTemperatureSetpoint"] = v
	}
	if mode, ok := props["mode"].(string); ok {
		out["thermostatMode"] = mode
	}
}

func projectSensor(out TraitState, props map[string]any) {
	if v, ok := props["occupancy"]; ok {
		if b, ok := v.(bool); ok {
			if b {
				out["occupancy"] = "OCCUPIED"
			} else {
				out["occupancy"] = "UNOCCUPIED"
			}
		}
	}
	if v, ok := props["contact"]; ok {
		if b, ok := v.(bool); ok {
			if b {
				out["openClose"] = "CLOSED"
			} else {
				out["openClose"] = "OPEN"
			}
		}
	}
	if v, ok := numericValue(props["humidity"]); ok {
		out["humidityAmbientPercent"] = v
	}
	if v, ok := numericValue(props["temperature"]); ok {
		out["temperatureAmbientCelsius"] = v
	}
}

func clampPercent(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(math.Round(v))
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

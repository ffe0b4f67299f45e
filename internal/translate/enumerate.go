package translate

import (
	"fmt"

	"github.com/nerrad567/gateway-bridge/internal/device"
)

// ToEnumerateRecords translates one gateway Device into the assistant's
// enumerate records. A single-endpoint device yields one record with id
// "<clientId>/<deviceId>"; a multi-endpoint device yields one record per
// endpoint with id "<clientId>/<deviceId>#<endpointId>", each a distinct
// logical assistant device.
func ToEnumerateRecords(clientID string, d device.Device) []EnumerateRecord {
	typ, traits, ok := DetectDeviceType(d.Endpoints)
	if !ok {
		return nil
	}

	attrs := deviceAttributes(typ, d.Endpoints)

	if len(d.Endpoints) <= 1 {
		return []EnumerateRecord{{
			ID:         fmt.Sprintf("%s/%s", clientID, d.ID),
			Type:       typ,
			Traits:     traits,
			Name:       d.Name,
			Attributes: attrs,
		}}
	}

	records := make([]EnumerateRecord, 0, len(d.Endpoints))
	for _, ep := range d.Endpoints {
		records = append(records, EnumerateRecord{
			ID:         fmt.Sprintf("%s/%s#%d", clientID, d.ID, ep.ID),
			Type:       typ,
			Traits:     traits,
			Name:       d.Name,
			Attributes: attrs,
		})
	}
	return records
}

// deviceAttributes populates trait attributes from endpoint options, e.g.
// the color model implied by color-temperature support, or the thermostat
// mode list from options.modes.
func deviceAttributes(typ DeviceType, endpoints []device.Endpoint) map[string]any {
	attrs := map[string]any{}

	for _, ep := range endpoints {
		for _, tag := range ep.Exposes {
			switch tag {
			case "color_rgb":
				attrs["colorModel"] = "rgb"
			case "color_temp":
				if _, has := attrs["colorModel"]; !has {
					attrs["colorModel"] = "temperature"
				}
				if minK, ok := numericOption(ep.Options, "colorTempMinK"); ok {
					attrs["colorTemperatureRangeMinK"] = minK
				}
				if maxK, ok := numericOption(ep.Options, "colorTempMaxK"); ok {
					attrs["colorTemperatureRangeMaxK"] = maxK
				}
			}
		}

		if typ == DeviceTypeThermostat {
			if modes, ok := ep.Options["modes"]; ok {
				attrs["availableThermostatModes"] = modes
			}
		}
	}

	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

func numericOption(options map[string]any, key string) (float64, bool) {
	v, ok := options[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

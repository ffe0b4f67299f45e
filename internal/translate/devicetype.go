package translate

import "github.com/nerrad567/gateway-bridge/internal/device"

// deviceTypeRule is one entry in the ordered capability-to-device-type
// table. The first rule whose tag is present in a device's merged exposes
// set wins. A fixed, ordered lookup table is easier to reason about and
// extend than a polymorphic "trait mapper" hierarchy would be here, since
// the whole table is a handful of priority-ordered rows.
type deviceTypeRule struct {
	tag    string
	typ    DeviceType
	traits []Trait
}

// deviceTypeTable is deliberately ordered: a device exposing both "lock"
// and "light" tags (e.g. a smart lock with a status LED capability) is a
// LOCK first, matching the gateway's primary-capability convention.
var deviceTypeTable = []deviceTypeRule{
	{tag: "lock", typ: DeviceTypeLock, traits: []Trait{TraitLockUnlock}},
	{tag: "cover", typ: DeviceTypeBlinds, traits: []Trait{TraitOpenClose}},
	{tag: "thermostat", typ: DeviceTypeThermostat, traits: []Trait{TraitTemperatureSetting}},
	{tag: "light", typ: DeviceTypeLight, traits: []Trait{TraitOnOff}},
	{tag: "outlet", typ: DeviceTypeOutlet, traits: []Trait{TraitOnOff}},
	{tag: "switch", typ: DeviceTypeSwitch, traits: []Trait{TraitOnOff}},
}

// sensorOnlyTags maps a bare sensor tag to the SENSOR device type when no
// actuator tag matched. Every sensor-only device shares DeviceTypeSensor;
// the specific reading is carried in trait state, not the device type.
var sensorOnlyTags = map[string]struct{}{
	"contact":     {},
	"motion":      {},
	"occupancy":   {},
	"temperature": {},
	"humidity":    {},
	"battery":     {},
}

// mergedTags builds the union of exposes tags across every endpoint, the
// merged capability set a device type is detected from.
func mergedTags(endpoints []device.Endpoint) map[string]struct{} {
	out := make(map[string]struct{})
	for _, ep := range endpoints {
		for _, tag := range ep.Exposes {
			out[tag] = struct{}{}
		}
	}
	return out
}

// DetectDeviceType picks exactly one device type for a device's merged
// exposes tags, by the first matching rule of the ordered table. ok is
// false if no actuator or sensor tag matched anything.
func DetectDeviceType(endpoints []device.Endpoint) (typ DeviceType, traits []Trait, ok bool) {
	tags := mergedTags(endpoints)

	for _, rule := range deviceTypeTable {
		if _, present := tags[rule.tag]; present {
			return rule.typ, additionalTraits(rule.traits, tags), true
		}
	}

	for tag := range tags {
		if _, present := sensorOnlyTags[tag]; present {
			return DeviceTypeSensor, []Trait{TraitSensorState}, true
		}
	}

	if _, ok := tags["brightness"]; ok {
		// A dimmer with no "light" tag is still a light with brightness.
		return DeviceTypeLight, additionalTraits([]Trait{TraitOnOff}, tags), true
	}

	return "", nil, false
}

// additionalTraits augments the base trait set detected from the primary
// device-type rule with secondary capability tags present on the device
// (e.g. a light that also reports "brightness" or "color_rgb").
func additionalTraits(base []Trait, tags map[string]struct{}) []Trait {
	out := append([]Trait(nil), base...)
	add := func(t Trait) {
		for _, existing := range out {
			if existing == t {
				return
			}
		}
		out = append(out, t)
	}

	if _, ok := tags["brightness"]; ok {
		add(TraitBrightness)
	}
	if _, ok := tags["color_rgb"]; ok {
		add(TraitColorSetting)
	}
	if _, ok := tags["color_temp"]; ok {
		add(TraitColorSetting)
	}
	return out
}

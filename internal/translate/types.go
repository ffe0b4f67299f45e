package translate

// DeviceType is one of the assistant's fixed device-type tags.
type DeviceType string

const (
	DeviceTypeLock      DeviceType = "LOCK"
	DeviceTypeBlinds    DeviceType = "BLINDS"
	DeviceTypeThermostat DeviceType = "THERMOSTAT"
	DeviceTypeLight     DeviceType = "LIGHT"
	DeviceTypeSwitch    DeviceType = "SWITCH"
	DeviceTypeOutlet    DeviceType = "OUTLET"
	DeviceTypeSensor    DeviceType = "SENSOR"
)

// Trait is one of the assistant's capability handles.
type Trait string

const (
	TraitOnOff              Trait = "OnOff"
	TraitBrightness         Trait = "Brightness"
	TraitColorSetting       Trait = "ColorSetting"
	TraitOpenClose          Trait = "OpenClose"
	TraitLockUnlock         Trait = "LockUnlock"
	TraitTemperatureSetting Trait = "TemperatureSetting"
	TraitSensorState        Trait = "SensorState"
)

// EnumerateRecord is one logical assistant device produced from a gateway
// Device (possibly one of several, for a multi-endpoint device).
type EnumerateRecord struct {
	ID         string         `json:"id"`
	Type       DeviceType     `json:"type"`
	Traits     []Trait        `json:"traits"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// TraitState is the projected, assistant-facing state of one logical
// device: on/off, brightness, color, open-percent, temperature, sensor
// readings, plus the ambient online/status fields every projection carries.
type TraitState map[string]any

// AssistantCommand is one execution the assistant asked the bridge to
// perform against a single device id.
type AssistantCommand struct {
	Name   string
	Params map[string]any
}

// GatewayPayload is the lowered command payload sent to the device over its
// gateway connection.
type GatewayPayload map[string]any

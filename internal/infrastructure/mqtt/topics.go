package mqtt

import "fmt"

// Topic prefixes for the bridge's MQTT surface.
//
// Report-state topics use the scheme: bridge/state/{userId}/{clientId}/{deviceId},
// one topic per device so the broker's retained message for a topic is always
// that device's last reported state.
const (
	// TopicPrefixState is the base for outbound report-state topics.
	TopicPrefixState = "bridge/state"

	// TopicPrefixSystem is the base for the bridge's own status topics.
	TopicPrefixSystem = "bridge/system"
)

// Topics provides builders for the bridge's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topic := topics.ReportState("user-42", "gateway-7", "light-living")
//	// Returns: "bridge/state/user-42/gateway-7/light-living"
type Topics struct{}

// ReportState returns the topic a stateChanged event for a given device is
// published to.
//
// Example: bridge/state/user-42/gateway-7/light-living
func (Topics) ReportState(userID, clientID, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefixState, userID, clientID, deviceID)
}

// AllReportState returns a pattern matching every published device state.
//
// Pattern: bridge/state/+/+/+
func (Topics) AllReportState() string {
	return fmt.Sprintf("%s/+/+/+", TopicPrefixState)
}

// UserReportState returns a pattern matching all of one user's device states.
//
// Pattern: bridge/state/{userId}/+/+
func (Topics) UserReportState(userID string) string {
	return fmt.Sprintf("%s/%s/+/+", TopicPrefixState, userID)
}

// SystemStatus returns the bridge's own online/offline status topic, set as
// the connection's Last Will and Testament.
//
// Example: bridge/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

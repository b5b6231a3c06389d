package mqtt

import "fmt"

// TopicPrefix is the root of every topic the core publishes or consumes.
//
// Pod topics follow freesleep/{pod}/{kind}[/{name}], for example
// freesleep/bedroom/state/status or freesleep/bedroom/command/set-temperature.
const TopicPrefix = "freesleep"

// Topics provides builders for MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.PodState("bedroom", "base") // "freesleep/bedroom/state/base"
type Topics struct{}

// PodState returns the retained state topic for one snapshot category.
func (Topics) PodState(podID, category string) string {
	return fmt.Sprintf("%s/%s/state/%s", TopicPrefix, podID, category)
}

// PodDerived returns the retained topic for derived values.
func (Topics) PodDerived(podID string) string {
	return fmt.Sprintf("%s/%s/derived", TopicPrefix, podID)
}

// PodCommand returns the topic consumers publish a command kind to.
func (Topics) PodCommand(podID, kind string) string {
	return fmt.Sprintf("%s/%s/command/%s", TopicPrefix, podID, kind)
}

// PodAck returns the topic command outcomes are published on.
func (Topics) PodAck(podID, kind string) string {
	return fmt.Sprintf("%s/%s/ack/%s", TopicPrefix, podID, kind)
}

// PodHealth returns the retained bridge health topic.
func (Topics) PodHealth(podID string) string {
	return fmt.Sprintf("%s/%s/health", TopicPrefix, podID)
}

// PodAvailability returns the retained availability topic
// ("online" / "offline" plain payload).
func (Topics) PodAvailability(podID string) string {
	return fmt.Sprintf("%s/%s/availability", TopicPrefix, podID)
}

// AllPodCommands matches every command topic for a pod.
func (Topics) AllPodCommands(podID string) string {
	return fmt.Sprintf("%s/%s/command/+", TopicPrefix, podID)
}

// AllPodStates matches every state topic for a pod.
func (Topics) AllPodStates(podID string) string {
	return fmt.Sprintf("%s/%s/state/+", TopicPrefix, podID)
}

// SystemStatus returns the core's retained online/offline topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

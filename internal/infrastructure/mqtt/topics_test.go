package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"PodState", topics.PodState("bedroom", "status"), "freesleep/bedroom/state/status"},
		{"PodDerived", topics.PodDerived("bedroom"), "freesleep/bedroom/derived"},
		{"PodCommand", topics.PodCommand("bedroom", "set-temperature"), "freesleep/bedroom/command/set-temperature"},
		{"PodAck", topics.PodAck("bedroom", "apply-preset"), "freesleep/bedroom/ack/apply-preset"},
		{"PodHealth", topics.PodHealth("bedroom"), "freesleep/bedroom/health"},
		{"PodAvailability", topics.PodAvailability("bedroom"), "freesleep/bedroom/availability"},
		{"AllPodCommands", topics.AllPodCommands("bedroom"), "freesleep/bedroom/command/+"},
		{"AllPodStates", topics.AllPodStates("bedroom"), "freesleep/bedroom/state/+"},
		{"SystemStatus", topics.SystemStatus(), "freesleep/system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

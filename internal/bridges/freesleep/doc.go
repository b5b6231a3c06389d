// Package freesleep connects one Free Sleep pod to the core.
//
// The pod exposes a local REST API. This package polls it, merges the results
// into a device.Cache and forwards commands to it.
//
// # Architecture
//
//	              ┌──────────────┐   poll    ┌─────────────┐
//	              │ Coordinator  │──────────►│   Client    │   REST
//	              └──────┬───────┘           │  (resty)    │◄────────► Pod
//	                merge│                   └─────▲───────┘
//	              ┌──────▼───────┐                 │ write
//	 snapshot ◄───│ device.Cache │◄── optimistic ──┤
//	              └──────┬───────┘           ┌─────┴───────┐
//	               signal│                   │   Gateway   │◄──── commands
//	     ┌───────────────┼───────────┐       └─────────────┘      (API, MQTT)
//	┌────▼────┐    ┌─────▼────┐  ┌───▼──────┐
//	│ Bridge  │    │ Recorder │  │ API / WS │
//	│ (MQTT)  │    │ (Influx, │  └──────────┘
//	└─────────┘    │  SQLite) │
//	               └──────────┘
//
// # Key Responsibilities
//
//   - Client: one call per pod endpoint; classifies failures as
//     ErrUnreachable, *DeviceError or ErrProtocol; never retries
//   - Coordinator: status, base and vitals loops at fixed cadences; settings
//     and schedules at startup and on demand
//   - Gateway: the only path to pod writes; validation, away-mode blocking,
//     optimistic merge, command log
//   - Bridge: retained MQTT state per category, command topics with acks,
//     health reporting
//   - Recorder: InfluxDB telemetry and SQLite state history on change
//
// # Commands
//
// A command is a Kind plus an optional side and Params:
//
//	rec, err := gateway.Execute(ctx, freesleep.Command{
//	    Kind:   freesleep.KindSetTemperature,
//	    Side:   device.SideLeft,
//	    Params: freesleep.Params{TemperatureF: &target},
//	})
//	var blocked *freesleep.AwayModeBlockedError
//	if errors.As(err, &blocked) {
//	    // disable away mode first
//	}
//
// Over MQTT the same command is published to
// freesleep/{pod}/command/set-temperature with body
// {"side":"left","params":{"temperature_f":78}}; the outcome arrives on
// freesleep/{pod}/ack/set-temperature.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package freesleep

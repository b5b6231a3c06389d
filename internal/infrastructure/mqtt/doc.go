// Package mqtt provides MQTT client connectivity for the Free Sleep core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions, restored after reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// The pod bridge publishes retained state per snapshot category and
// accepts commands on freesleep/{pod}/command/{kind}; see Topics.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllPodCommands("bedroom"), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt

package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher pushes measurement records to the lab broker so dashboards
// and notebooks can follow the experiment. Implements MeasurementObserver.
type MQTTPublisher struct {
	client       mqtt.Client
	topicPrefix  string
	experimentID string
}

func generateClientID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "reactorwatch_" + hex.EncodeToString(bytes)
}

// NewMQTTPublisher connects to the broker with auto-reconnect enabled.
func NewMQTTPublisher(config *MQTTConfig, experimentID string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(generateClientID())

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("MQTT: Connected to broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT: Connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	log.Printf("MQTT: Successfully connected to broker: %s", config.Broker)

	return &MQTTPublisher{
		client:       client,
		topicPrefix:  config.TopicPrefix,
		experimentID: experimentID,
	}, nil
}

// ObserveMeasurement publishes one record. Publish failures are logged, not
// surfaced: the broker is a convenience, never part of the control path.
func (p *MQTTPublisher) ObserveMeasurement(rec MeasurementRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		log.Printf("MQTT: failed to marshal record %d: %v", rec.Iteration, err)
		return
	}
	topic := fmt.Sprintf("%s/%s/measurements", p.topicPrefix, p.experimentID)
	token := p.client.Publish(topic, 1, true, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("MQTT: failed to publish record %d: %v", rec.Iteration, token.Error())
		}
	}()
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

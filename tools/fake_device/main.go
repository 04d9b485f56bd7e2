// Command fake_device publishes synthetic field-unit telemetry to an
// MQTT broker for local testing. Values drift around realistic
// baselines; an optional spike flag pushes temperature into alarm
// territory.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type register struct {
	Addr  string `json:"Addr"`
	Addrv string `json:"Addrv"`
}

type payload struct {
	DID     string     `json:"did"`
	Utime   string     `json:"Utime"`
	Content []register `json:"content"`
}

func main() {
	var brokerURL, clientID, topic string
	var interval time.Duration
	var spike bool
	flag.StringVar(&brokerURL, "broker", getenvDefault("MQTT_BROKER_URL", "tcp://localhost:1883"), "MQTT broker URL")
	flag.StringVar(&clientID, "did", "SMS-FAKE-001", "device client id")
	flag.StringVar(&topic, "topic", "gasgrid/up/SMS-FAKE-001", "publish topic")
	flag.DurationVar(&interval, "interval", 10*time.Second, "publish interval")
	flag.BoolVar(&spike, "spike", false, "publish alarm-level temperature")
	flag.Parse()

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("fake-device-" + clientID).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("mqtt connect: %v", token.Error())
	}
	defer client.Disconnect(250)
	log.Printf("publishing to %s every %s as %s", topic, interval, clientID)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			log.Print("stopping")
			return
		case <-ticker.C:
			raw, err := json.Marshal(buildPayload(clientID, spike))
			if err != nil {
				log.Fatalf("marshal: %v", err)
			}
			token := client.Publish(topic, 1, false, raw)
			if token.Wait() && token.Error() != nil {
				log.Printf("publish failed: %v", token.Error())
				continue
			}
			log.Printf("published %s", raw)
		}
	}
}

func buildPayload(clientID string, spike bool) payload {
	temperature := drift(18, 4)
	if spike {
		temperature = drift(85, 5)
	}
	return payload{
		DID:   clientID,
		Utime: time.Now().UTC().Format("2006/1/2 15:04:05"),
		Content: []register{
			{Addr: "T10", Addrv: format(drift(1.2, 0.3))},
			{Addr: "T11", Addrv: format(drift(4.5, 0.5))},
			{Addr: "T12", Addrv: format(temperature)},
			{Addr: "T13", Addrv: format(drift(120, 15))},
			{Addr: "T14", Addrv: format(drift(50000, 100))},
			{Addr: "T15", Addrv: format(drift(3.6, 0.05))},
		},
	}
}

func drift(base, spread float64) float64 {
	return base + (rand.Float64()*2-1)*spread
}

func format(value float64) string {
	return fmt.Sprintf("%.2f", value)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

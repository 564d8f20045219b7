package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"smartgarden/auth"
	"smartgarden/internal/automation"
	"smartgarden/internal/config"
	"smartgarden/internal/db"
	"smartgarden/internal/models"
	"smartgarden/internal/mqtt"
	"smartgarden/internal/utils"

	"github.com/rs/zerolog/log"
)

const usage = `usage:
  garden_tool device <deviceId> <name> <timezone> <ownerUserId>   register a device and print its api key
  garden_tool telemetry <deviceId> '<json readings>'               publish readings as the device would`

func main() {
	utils.InitLogging("info", "console")
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "device":
		if len(os.Args) != 6 {
			fmt.Println(usage)
			os.Exit(2)
		}
		provisionDevice(ctx, cfg, os.Args[2], os.Args[3], os.Args[4], os.Args[5])
	case "telemetry":
		if len(os.Args) != 4 {
			fmt.Println(usage)
			os.Exit(2)
		}
		publishTelemetry(cfg, os.Args[2], os.Args[3])
	default:
		fmt.Println(usage)
		os.Exit(2)
	}
}

func provisionDevice(ctx context.Context, cfg *config.Config, id, name, tz, ownerID string) {
	if _, err := time.LoadLocation(tz); err != nil {
		log.Fatal().Err(err).Str("timezone", tz).Msg("unknown timezone")
	}

	dbConn, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to DB")
	}
	defer dbConn.Close()

	key, hash, err := auth.GenerateDeviceKey()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to generate device key")
	}
	dev := &models.Device{ID: id, Name: name, Timezone: tz, OwnerID: &ownerID, APIKeyHash: hash}
	if err := dbConn.InsertDevice(ctx, dev); err != nil {
		log.Fatal().Err(err).Str("device_id", id).Msg("failed to insert device")
	}

	fmt.Printf("device %s registered\napi key (shown once): %s\n", id, key)
}

func publishTelemetry(cfg *config.Config, deviceID, readings string) {
	snap, err := automation.ParseTelemetry([]byte(readings))
	if err != nil {
		log.Fatal().Err(err).Msg("readings must be a JSON object")
	}
	payload, _ := json.Marshal(snap)

	client, err := mqtt.NewClient(mqtt.Config{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID + "-tool",
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MQTT")
	}
	defer client.Close()

	topic := client.Topics.Telemetry(deviceID)
	if err := client.Publish(topic, 1, payload); err != nil {
		log.Fatal().Err(err).Str("topic", topic).Msg("publish failed")
	}
	fmt.Printf("published %s to %s\n", payload, topic)
}

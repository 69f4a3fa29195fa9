// cmd/alert-subscriber/main.go
package main

import (
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sua-org/edge-agent/internal/config"
	"github.com/sua-org/edge-agent/internal/core"
	"github.com/sua-org/edge-agent/internal/mqttclient"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[debug] aviso: não foi possível carregar .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[debug] configuração inválida: %v", err)
	}
	if cfg.MQTTHost == "" {
		log.Fatalf("[debug] MQTT_HOST não configurado")
	}

	mqttCli, err := mqttclient.NewClient(mqttclient.Config{
		Host:     cfg.MQTTHost,
		Port:     cfg.MQTTPort,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
		ClientID: cfg.MQTTClientID + "-debug-subscriber",
	})
	if err != nil {
		log.Fatalf("erro ao conectar no MQTT: %v", err)
	}
	defer mqttCli.Close()

	// base/site/camera/alerts e base/site/<camera|edge>/status
	topics := []string{
		cfg.MQTTBaseTopic + "/+/+/alerts",
		cfg.MQTTBaseTopic + "/+/+/status",
	}
	if t := os.Getenv("MQTT_DEBUG_TOPIC"); t != "" {
		topics = []string{t}
	}
	for _, t := range topics {
		if err := mqttCli.Subscribe(t, 1, handleMessage); err != nil {
			log.Fatalf("erro ao assinar tópico %s: %v", t, err)
		}
		log.Printf("[debug] subscribed to topic: %s", t)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Println("[debug] sinal recebido, encerrando subscriber...")
	time.Sleep(500 * time.Millisecond)
}

func handleMessage(topic string, payload []byte) {
	log.Printf("\n[debug] mensagem recebida no tópico: %s (%d bytes)", topic, len(payload))

	if strings.HasSuffix(topic, "/alerts") {
		var a core.Alert
		if err := json.Unmarshal(payload, &a); err != nil {
			log.Printf("[debug] alerta inválido: %v", err)
			log.Printf("[debug] payload como string: %s", string(payload))
			return
		}
		classes := make([]string, 0, len(a.Violations))
		for _, v := range a.Violations {
			classes = append(classes, v.Class)
		}
		log.Printf("[ALERT] ts=%s camera=%s site=%s severity=%s detection=%s violations=%s",
			a.Timestamp.Format(time.RFC3339), a.CameraID, a.SiteID, a.Severity, a.DetectionID, strings.Join(classes, ","))
		return
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		log.Printf("[debug] erro ao fazer unmarshal do JSON: %v", err)
		log.Printf("[debug] payload como string: %s", string(payload))
		return
	}
	pretty, _ := json.MarshalIndent(raw, "", "  ")
	log.Printf("[STATUS] %s\n%s", topic, string(pretty))
}

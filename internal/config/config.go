package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sua-org/edge-agent/internal/core"
)

// Config reúne todas as variáveis de ambiente do edge agent.
type Config struct {
	DeviceID string
	SiteID   string
	Port     int
	Debug    bool

	InferenceBackend    string // simulated | http
	InferenceURL        string
	ModelPath           string
	ModelName           string
	InferenceDevice     string
	ConfidenceThreshold float64
	InferenceTimezone   string

	StoragePath       string
	RetentionDays     int
	RetentionInterval time.Duration

	CloudAPIURL   string
	CloudAPIKey   string
	SyncInterval  time.Duration
	SyncEnabled   bool
	SyncBatchSize int
	SyncQueuePath string // vazio => fila em memória

	AlertThreshold core.Severity
	AlertCooldown  time.Duration

	FaceBlurEnabled  bool
	FaceBlurStrength int

	CamerasFile       string
	HeartbeatInterval time.Duration

	MQTTHost      string
	MQTTPort      int
	MQTTUsername  string
	MQTTPassword  string
	MQTTClientID  string
	MQTTBaseTopic string

	EvidenceUploadBackend string // cloud | minio
	MinioEndpoint         string
	MinioAccessKey        string
	MinioSecretKey        string
	MinioBucket           string
	MinioUseSSL           bool
	MinioPublicURL        string
}

// Load lê o ambiente (o .env já deve ter sido carregado pelo main).
func Load() (*Config, error) {
	storage := getenv("STORAGE_PATH", "./evidence")

	threshold, ok := core.ParseSeverity(getenv("ALERT_THRESHOLD", "high"))
	if !ok {
		return nil, fmt.Errorf("ALERT_THRESHOLD inválido: %q", os.Getenv("ALERT_THRESHOLD"))
	}

	queuePath := filepath.Join(storage, "outbox.db")
	if v, set := os.LookupEnv("SYNC_QUEUE_PATH"); set {
		queuePath = strings.TrimSpace(v)
	}

	cfg := &Config{
		DeviceID: getenv("EDGE_DEVICE_ID", "edge-001"),
		SiteID:   getenv("SITE_ID", "site-001"),
		Port:     getenvInt("EDGE_PORT", 8080),
		Debug:    getenvBool("DEBUG", false),

		InferenceBackend:    strings.ToLower(getenv("INFERENCE_BACKEND", "simulated")),
		InferenceURL:        strings.TrimRight(os.Getenv("INFERENCE_URL"), "/"),
		ModelPath:           getenv("MODEL_PATH", "./models/safety_detection.pt"),
		ModelName:           getenv("MODEL_NAME", "YOLOv8-Safety"),
		InferenceDevice:     getenv("INFERENCE_DEVICE", "cuda:0"),
		ConfidenceThreshold: getenvFloat("CONFIDENCE_THRESHOLD", 0.85),
		InferenceTimezone:   getenv("INFERENCE_TIMEZONE", "Local"),

		StoragePath:       storage,
		RetentionDays:     getenvInt("RETENTION_DAYS", 30),
		RetentionInterval: getenvDurationSeconds("RETENTION_INTERVAL_SECONDS", time.Hour),

		CloudAPIURL:   strings.TrimRight(getenv("CLOUD_API_URL", "https://api.safetyvision.example.com"), "/"),
		CloudAPIKey:   os.Getenv("CLOUD_API_KEY"),
		SyncInterval:  getenvDurationSeconds("SYNC_INTERVAL", 30*time.Second),
		SyncEnabled:   getenvBool("SYNC_ENABLED", true),
		SyncBatchSize: getenvInt("SYNC_BATCH_SIZE", 10),
		SyncQueuePath: queuePath,

		AlertThreshold: threshold,
		AlertCooldown:  getenvDurationSeconds("ALERT_COOLDOWN", 60*time.Second),

		FaceBlurEnabled:  getenvBool("FACE_BLUR_ENABLED", true),
		FaceBlurStrength: getenvInt("FACE_BLUR_STRENGTH", 30),

		CamerasFile:       getenv("CAMERAS_FILE", "cameras.yaml"),
		HeartbeatInterval: getenvDurationSeconds("HEARTBEAT_INTERVAL_SECONDS", 30*time.Second),

		MQTTHost:      strings.TrimSpace(os.Getenv("MQTT_HOST")),
		MQTTPort:      getenvInt("MQTT_PORT", 1883),
		MQTTUsername:  os.Getenv("MQTT_USERNAME"),
		MQTTPassword:  os.Getenv("MQTT_PASSWORD"),
		MQTTClientID:  getenv("MQTT_CLIENT_ID", "edge-agent"),
		MQTTBaseTopic: strings.TrimSuffix(getenv("MQTT_BASE_TOPIC", "safety-vision/edge"), "/"),

		EvidenceUploadBackend: strings.ToLower(getenv("EVIDENCE_UPLOAD_BACKEND", "cloud")),
		MinioEndpoint:         getenv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey:        os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:        os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:           getenv("MINIO_BUCKET", "safety-evidence"),
		MinioUseSSL:           getenvBool("MINIO_USE_SSL", false),
		MinioPublicURL:        os.Getenv("MINIO_PUBLIC_URL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejeita erros de configuração antes de subir qualquer componente.
func (c *Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD fora de [0,1]: %v", c.ConfidenceThreshold)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("RETENTION_DAYS deve ser positivo: %d", c.RetentionDays)
	}
	if c.SyncBatchSize <= 0 {
		return fmt.Errorf("SYNC_BATCH_SIZE deve ser positivo: %d", c.SyncBatchSize)
	}
	switch c.InferenceBackend {
	case "simulated", "http":
	default:
		return fmt.Errorf("INFERENCE_BACKEND desconhecido: %q", c.InferenceBackend)
	}
	if c.InferenceBackend == "http" && c.InferenceURL == "" {
		return fmt.Errorf("INFERENCE_BACKEND=http exige INFERENCE_URL")
	}
	switch c.EvidenceUploadBackend {
	case "cloud", "minio":
	default:
		return fmt.Errorf("EVIDENCE_UPLOAD_BACKEND desconhecido: %q", c.EvidenceUploadBackend)
	}
	return nil
}

// Location resolve INFERENCE_TIMEZONE (usado para a contagem diária).
func (c *Config) Location() *time.Location {
	if c.InferenceTimezone == "" || strings.EqualFold(c.InferenceTimezone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(c.InferenceTimezone)
	if err != nil {
		log.Printf("[config] INFERENCE_TIMEZONE inválido (%q), usando horário local: %v", c.InferenceTimezone, err)
		return time.Local
	}
	return loc
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] valor inválido em %s=%q, usando default %d", key, v, def)
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] valor inválido em %s=%q, usando default %v", key, v, def)
		return def
	}
	return f
}

func getenvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	log.Printf("[config] valor inválido em %s=%q, usando default %v", key, v, def)
	return def
}

func getenvDurationSeconds(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		log.Printf("[config] valor inválido em %s=%q, usando default %s", key, v, def)
		return def
	}
	return time.Duration(sec) * time.Second
}

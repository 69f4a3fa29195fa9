// cmd/edge-agent/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/sua-org/edge-agent/internal/alerts"
	"github.com/sua-org/edge-agent/internal/api"
	"github.com/sua-org/edge-agent/internal/bus"
	"github.com/sua-org/edge-agent/internal/cloudsync"
	"github.com/sua-org/edge-agent/internal/config"
	"github.com/sua-org/edge-agent/internal/core"
	"github.com/sua-org/edge-agent/internal/evidence"
	"github.com/sua-org/edge-agent/internal/inference"
	"github.com/sua-org/edge-agent/internal/inventory"
	"github.com/sua-org/edge-agent/internal/mqttclient"
	"github.com/sua-org/edge-agent/internal/orchestrator"
	"github.com/sua-org/edge-agent/internal/redact"
	"github.com/sua-org/edge-agent/internal/source"
	"github.com/sua-org/edge-agent/internal/status"
	"github.com/sua-org/edge-agent/internal/storage"
)

const version = "1.0.0"

func main() {
	// Carrega .env na raiz (se não existir, só loga aviso)
	if err := godotenv.Load(); err != nil {
		log.Printf("[main] aviso: não foi possível carregar .env: %v", err)
	} else {
		log.Printf("[main] .env carregado com sucesso")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] configuração inválida: %v", err)
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := evidence.NewStore(cfg.StoragePath, cfg.RetentionDays)
	if err != nil {
		log.Fatalf("[main] erro abrindo evidências em %s: %v", cfg.StoragePath, err)
	}
	go store.RunRetentionLoop(ctx, cfg.RetentionInterval)

	engine, err := inference.NewFromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("[main] inferência indisponível: %v", err)
	}

	var redactor orchestrator.Redactor
	if cfg.FaceBlurEnabled {
		var det redact.RegionDetector
		if cfg.InferenceBackend == "http" {
			det = redact.NewHTTPDetector(cfg.InferenceURL)
		} else {
			det = redact.NewSimulatedDetector(time.Now().UnixNano())
		}
		redactor = redact.New(cfg.FaceBlurStrength, det)
	}

	outbox, err := openOutbox(cfg.SyncQueuePath)
	if err != nil {
		log.Fatalf("[main] erro abrindo fila de sync: %v", err)
	}
	defer outbox.Close()

	var dest cloudsync.Destination
	if cfg.EvidenceUploadBackend == "minio" {
		ms, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.MinioPublicURL,
		})
		if err != nil {
			log.Printf("[main] aviso: MinIO não inicializado, usando upload via nuvem: %v", err)
		} else {
			dest = ms
		}
	}

	cloud := cloudsync.NewClient(cfg.CloudAPIURL, cfg.CloudAPIKey)
	syncer := cloudsync.NewSyncer(cloud, outbox, store, dest, cloudsync.Options{
		Enabled:   cfg.SyncEnabled,
		Interval:  cfg.SyncInterval,
		BatchSize: cfg.SyncBatchSize,
	})
	if n, err := syncer.Reconcile(ctx); err != nil {
		log.Printf("[main] aviso: reconciliação de pendentes falhou: %v", err)
	} else if n > 0 {
		log.Printf("[main] %d evidências pendentes re-enfileiradas", n)
	}
	syncer.Start(ctx)

	var alertSink alerts.Sink = syncer
	var publisher status.Publisher
	var mqttCli *mqttclient.Client
	if cfg.MQTTHost != "" {
		mqttCli, err = mqttclient.NewClient(mqttclient.Config{
			Host:     cfg.MQTTHost,
			Port:     cfg.MQTTPort,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			ClientID: cfg.MQTTClientID,
		})
		if err != nil {
			log.Printf("[main] aviso: MQTT não conectado, seguindo sem barramento: %v", err)
		} else {
			b := bus.New(mqttCli, cfg.MQTTBaseTopic, cfg.SiteID)
			alertSink = alerts.MultiSink{Primary: syncer, Extras: []alerts.Sink{b}}
			publisher = b
		}
	}

	dispatcher := alerts.NewDispatcher(alertSink, cfg.AlertThreshold, cfg.AlertCooldown)
	dispatcher.SetDebug(cfg.Debug)

	mgr := orchestrator.New(orchestrator.Deps{
		Inference:      engine,
		Redactor:       redactor,
		Evidence:       store,
		Alerts:         dispatcher,
		Uploader:       syncer,
		OpenSource:     source.Open,
		ValidateSource: source.Validate,
		SiteID:         cfg.SiteID,
		JPEGQuality:    85,
	})
	if err := loadCameras(mgr, cfg); err != nil {
		log.Printf("[main] aviso: inventário de câmeras: %v", err)
	}

	reporter := status.New(status.Deps{
		Cameras:   mgr,
		Inference: engine,
		Storage:   store,
		Sync:      syncer,
		Cloud:     cloud,
		Alerts:    dispatcher,
		Publisher: publisher,
		DeviceID:  cfg.DeviceID,
		SiteID:    cfg.SiteID,
		Version:   version,
		Interval:  cfg.HeartbeatInterval,
	})
	go reporter.Run(ctx)

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Debug {
		router.Use(gin.Logger())
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: api.NewServer(mgr, store, syncer, dispatcher, reporter, version).Router(router),
	}
	go func() {
		log.Printf("[main] API local ouvindo em %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[main] erro no servidor HTTP: %v", err)
		}
	}()

	log.Printf("[main] edge agent %s iniciado (device=%s site=%s)", version, cfg.DeviceID, cfg.SiteID)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Println("[main] sinal recebido, encerrando...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] erro encerrando HTTP: %v", err)
	}

	// Ordem: câmeras -> sync -> MQTT.
	mgr.StopAll()
	syncer.Stop()
	cancel()
	if mqttCli != nil {
		mqttCli.Close()
	}
	log.Println("[main] encerrado")
}

func openOutbox(path string) (cloudsync.Outbox, error) {
	if path == "" {
		log.Printf("[main] fila de sync em memória (SYNC_QUEUE_PATH vazio)")
		return cloudsync.NewMemoryOutbox(), nil
	}
	return cloudsync.OpenSQLiteOutbox(path)
}

// loadCameras registra as câmeras do inventário e liga as habilitadas.
func loadCameras(mgr *orchestrator.Manager, cfg *config.Config) error {
	inv, err := inventory.Load(cfg.CamerasFile, cfg.SiteID)
	if err != nil {
		return err
	}
	for _, cam := range inv.CameraConfigs() {
		var zones []core.Zone
		if cam.ZoneID != "" {
			zones = inv.Zones[cam.ZoneID]
		}
		if err := mgr.Add(cam, zones); err != nil {
			log.Printf("[main] câmera %s ignorada: %v", cam.CameraID, err)
			continue
		}
		if !cam.Enabled {
			continue
		}
		if err := mgr.Start(cam.CameraID); err != nil {
			log.Printf("[main] erro iniciando câmera %s: %v", cam.CameraID, err)
		}
	}
	log.Printf("[main] %d câmeras no inventário %s", len(inv.Cameras), cfg.CamerasFile)
	return nil
}

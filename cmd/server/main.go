// exgstream
//
// Entry point: wires acquisition, recording and storage together and manages
// graceful shutdown.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"google.golang.org/grpc"

	"github.com/mtiwari1/exgstream/internal/acquisition"
	"github.com/mtiwari1/exgstream/internal/config"
	"github.com/mtiwari1/exgstream/internal/grpcserver"
	"github.com/mtiwari1/exgstream/internal/live"
	"github.com/mtiwari1/exgstream/internal/recording"
	"github.com/mtiwari1/exgstream/internal/repository"
	"github.com/mtiwari1/exgstream/internal/restapi"
	"github.com/mtiwari1/exgstream/internal/storage"
	"github.com/mtiwari1/exgstream/internal/transport"
	"github.com/mtiwari1/exgstream/internal/worker"
	pb "github.com/mtiwari1/exgstream/proto"
)

const (
	maxExportMessage = 64 << 20
	shutdownTimeout  = 10 * time.Second
)

type closableRepo interface {
	repository.Repository
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	level, _ := cfg.Level()

	// ── Structured logger ──
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting exgstream",
		slog.String("storage", cfg.StorageDriver),
		slog.String("transport", cfg.Transport),
	)

	// ── Repository ──
	repo, err := openRepo(cfg)
	if err != nil {
		logger.Error("open repository", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("database connected", slog.String("driver", cfg.StorageDriver))

	// ── Storage worker ──
	engine := storage.NewEngine(repo, logger)
	pool := worker.NewPool(engine, cfg.StorageWorkers, logger)
	pool.Start()
	logger.Info("storage worker started", slog.Int("workers", cfg.StorageWorkers))

	recorder := recording.NewRecorder(pool, logger)

	// ── MQTT (optional) ──
	var mqttClient mqtt.Client
	if cfg.NeedsMQTT() {
		mqttClient, err = connectMQTT(cfg, logger)
		if err != nil {
			logger.Error("connect mqtt", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// ── Live consumers ──
	hub := live.NewHub(logger)
	sinks := []acquisition.Sink{hub}
	var publisher *live.MQTTPublisher
	if cfg.MQTTLiveTopic != "" {
		publisher = live.NewMQTTPublisher(mqttClient, cfg.MQTTLiveTopic, live.DefaultBatchSize, logger)
		sinks = append(sinks, publisher)
	}

	// ── Acquisition ──
	connector, err := newConnector(cfg, mqttClient, logger)
	if err != nil {
		logger.Error("init transport", slog.String("error", err.Error()))
		os.Exit(1)
	}
	ctrl := acquisition.NewController(connector, recorder, sinks, logger)

	// ── gRPC server ──
	grpcSrv := grpc.NewServer(grpc.MaxSendMsgSize(maxExportMessage))
	grpcImpl := grpcserver.NewServer(pool, logger)
	pb.RegisterRecordingServiceServer(grpcSrv, grpcImpl)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Error("listen gRPC", slog.String("error", err.Error()))
		os.Exit(1)
	}

	go func() {
		logger.Info("gRPC server listening", slog.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("gRPC serve", slog.String("error", err.Error()))
		}
	}()

	// ── REST API ──
	opts := restapi.Options{Live: hub.Handler(), Prefix: cfg.RecordingPrefix}
	if cfg.Transport == config.TransportSerial {
		opts.Ports = transport.ListPorts
	}
	handler := restapi.NewHandler(grpcImpl, pool, ctrl, recorder, repo, opts, logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	httpSrv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP serve", slog.String("error", err.Error()))
		}
	}()

	// ── Graceful shutdown (SIGINT / SIGTERM) ──
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	shutCtx, shutCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutCancel()

	// 1. Stop accepting new HTTP requests. Live viewers hold their
	// connections open, so close them first.
	hub.Close()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown", slog.String("error", err.Error()))
	}
	logger.Info("HTTP server stopped")

	// 2. Release the device. An active recording is stopped and flushed.
	if err := ctrl.Disconnect(shutCtx); err != nil && !errors.Is(err, acquisition.ErrNotConnected) {
		logger.Error("disconnect device", slog.String("error", err.Error()))
	}
	if _, err := recorder.Stop(shutCtx); err != nil && !errors.Is(err, recording.ErrNotRecording) {
		logger.Error("stop recording", slog.String("error", err.Error()))
	}
	if err := recorder.Wait(shutCtx); err != nil {
		logger.Error("wait for flushes", slog.String("error", err.Error()))
	}
	logger.Info("acquisition stopped")

	// 3. Stop gRPC server gracefully.
	grpcSrv.GracefulStop()
	logger.Info("gRPC server stopped")

	// 4. Drain the storage worker.
	pool.Shutdown()
	logger.Info("storage worker drained")

	if publisher != nil {
		publisher.Flush()
	}
	if mqttClient != nil {
		mqttClient.Disconnect(250)
	}

	logger.Info("exgstream shutdown complete")
}

func openRepo(cfg config.Config) (closableRepo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cfg.StorageDriver == config.DriverMySQL {
		return repository.OpenMySQL(ctx, cfg.MySQLDSN)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	return repository.OpenSQLite(ctx, cfg.SQLitePath)
}

func connectMQTT(cfg config.Config, logger *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetUsername(cfg.MQTTUsername)
	opts.SetPassword(cfg.MQTTPassword)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", slog.String("broker", cfg.MQTTBroker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", slog.String("error", err.Error()))
	})
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return client, nil
}

func newConnector(cfg config.Config, client mqtt.Client, logger *slog.Logger) (acquisition.Connector, error) {
	switch cfg.Transport {
	case config.TransportSerial:
		catalog, err := config.LoadBoards(cfg.BoardsFile)
		if err != nil {
			return nil, err
		}
		return transport.NewSerialConnector(transport.SerialConfig{
			PortName:   cfg.SerialPort,
			BaudRate:   cfg.SerialBaud,
			Timeout:    cfg.SerialTimeout,
			StartDelay: cfg.SerialStartDelay,
			Catalog:    catalog,
		}, logger), nil
	case config.TransportMQTT:
		return transport.NewMQTTConnector(client, transport.MQTTConfig{
			NotifyTopic: cfg.MQTTNotifyTopic,
			ConfigTopic: cfg.MQTTConfigTopic,
			DeviceName:  cfg.DeviceName,
		}, logger), nil
	}
	return noDevice{}, nil
}

// noDevice serves storage and export only.
type noDevice struct{}

func (noDevice) Connect(context.Context) (acquisition.Link, error) {
	return nil, errors.New("no transport configured")
}

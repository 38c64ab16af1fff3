package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/paulmorrishill/solarplan2mqtt/internal/adapter/actor"
	"github.com/paulmorrishill/solarplan2mqtt/internal/config"
	"github.com/paulmorrishill/solarplan2mqtt/internal/core/actor"
	"github.com/paulmorrishill/solarplan2mqtt/internal/core/domain"
	"github.com/paulmorrishill/solarplan2mqtt/internal/server"
	"github.com/paulmorrishill/solarplan2mqtt/internal/store"
	"github.com/paulmorrishill/solarplan2mqtt/internal/util/actorutil"
	"github.com/paulmorrishill/solarplan2mqtt/pkg/luxpower"
	"github.com/paulmorrishill/solarplan2mqtt/pkg/solarplan"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)
	slog.Info("solarplan2mqtt", "version", versioninfo.Short())

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// open storage
	storage, err := store.NewStorage(cfg.Storage.Path)
	if err != nil {
		logger.Fatal("storage open failed", zap.Error(err))
	}
	if err := storage.Migrate(context.Background()); err != nil {
		logger.Fatal("storage migration failed", zap.Error(err))
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	telemetryProv, err := telemetryActorProvider(cfg, logger)
	if err != nil {
		panic(err)
	}

	stateHolder := domain.NewStateHolder()

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, stateHolder, storage, storage,
			mqttActorProvider(cfg, logger), telemetryProv, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	// midnight rollover: swap in the stored schedule for the new date
	sched, err := startRolloverScheduler(ctx, pid, logger)
	if err != nil {
		logger.Fatal("rollover scheduler failed", zap.Error(err))
	}
	defer sched.Stop()

	server := server.NewServer(*cfg, ctx, pid, stateHolder, storage)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func startRolloverScheduler(ctx *pactor.RootContext, master *pactor.PID, logger *zap.Logger) (quartz.Scheduler, error) {
	sched := quartz.NewStdScheduler()
	sched.Start(context.Background())

	trigger, err := quartz.NewCronTrigger("0 0 0 * * *")
	if err != nil {
		return nil, err
	}
	rollover := job.NewFunctionJob(func(context.Context) (int, error) {
		date := time.Now().Format(solarplan.DateLayout)
		logger.Info("midnight rollover", zap.String("date", date))
		ctx.Send(master, domain.ReloadScheduleRequest{Date: date})
		return 0, nil
	})
	err = sched.ScheduleJob(quartz.NewJobDetail(rollover, quartz.NewJobKey("midnight_rollover")), trigger)
	if err != nil {
		return nil, err
	}
	return sched, nil
}

func initConfig() (*config.Config, error) {

	// alias PORT => SOLARPLAN_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("SOLARPLAN_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("solarplan")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check bounds
	if cfg.Telemetry.Source != "mqtt" && cfg.Telemetry.Source != "modbus" {
		return nil, errors.New("config param telemetry.source must be mqtt or modbus")
	}
	if cfg.Telemetry.Source == "modbus" && cfg.Telemetry.PollIntervalMillis < 1000 {
		return nil, errors.New("config param telemetry.poll_interval_millis should be >= 1000")
	}
	if cfg.Telemetry.MaxAgeSeconds == 0 {
		return nil, errors.New("config param telemetry.max_age_seconds should be > 0")
	}
	if cfg.Control.TickIntervalSeconds < 10 {
		return nil, errors.New("config param control.tick_interval_seconds should be >= 10")
	}
	if cfg.Control.RetryAttempts <= 0 {
		return nil, errors.New("config param control.retry_attempts should be > 0")
	}
	if cfg.Control.RetryDelayMinutes <= 0 {
		return nil, errors.New("config param control.retry_delay_minutes should be > 0")
	}
	if cfg.Protections.LowBattery.RecoveryPercent <= cfg.Protections.LowBattery.CriticalPercent {
		return nil, errors.New("config param protections.low_battery.recovery_percent must be > critical_percent")
	}
	if cfg.Protections.Overcharge.ActivationMarginPercent <= cfg.Protections.Overcharge.DeactivationMarginPercent {
		return nil, errors.New("config param protections.overcharge.activation_margin_percent must be > deactivation_margin_percent")
	}
	if cfg.Protections.WastedSolar.SaturationPercent <= cfg.Protections.WastedSolar.ReleasePercent {
		return nil, errors.New("config param protections.wasted_solar.saturation_percent must be > release_percent")
	}
	if cfg.Protections.WastedSolar.WindowStartHour < 0 || cfg.Protections.WastedSolar.WindowEndHour > 24 ||
		cfg.Protections.WastedSolar.WindowStartHour >= cfg.Protections.WastedSolar.WindowEndHour {
		return nil, errors.New("config param protections.wasted_solar window hours must satisfy 0 <= start < end <= 24")
	}
	if cfg.Storage.Path == "" {
		return nil, errors.New("config param storage.path should not be empty")
	}

	return &cfg, nil
}

func telemetryActorProvider(cfg *config.Config, logger *zap.Logger) (actor.TelemetryActorProvider, error) {

	var reader luxpower.InverterModbusReader
	if cfg.Telemetry.Source == "modbus" {
		var err error
		reader, err = luxpower.CreateLuxPowerModbusReader(cfg.Telemetry.Modbus.Host,
			cfg.Telemetry.Modbus.Port, uint8(cfg.Telemetry.Modbus.UnitId), 1*time.Second, logger)
		if err != nil {
			return nil, err
		}
	}

	return func() *actor.TelemetryActor {
		return actor.NewTelemetryActor(cfg, reader, logger)
	}, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(eventStream *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, eventStream, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.base_topic", "solarplan2mqtt")
	viper.SetDefault("telemetry.source", "mqtt")
	viper.SetDefault("telemetry.max_age_seconds", 120)
	viper.SetDefault("telemetry.poll_interval_millis", 5000)
	viper.SetDefault("control.tick_interval_seconds", 60)
	viper.SetDefault("control.retry_attempts", 3)
	viper.SetDefault("control.retry_delay_minutes", 5)
	viper.SetDefault("protections.low_battery.critical_percent", 2)
	viper.SetDefault("protections.low_battery.recovery_percent", 3)
	viper.SetDefault("protections.low_battery.min_charge_rate", 1)
	viper.SetDefault("protections.overcharge.activation_margin_percent", 10)
	viper.SetDefault("protections.overcharge.deactivation_margin_percent", 5)
	viper.SetDefault("protections.wasted_solar.saturation_percent", 97)
	viper.SetDefault("protections.wasted_solar.release_percent", 95)
	viper.SetDefault("protections.wasted_solar.window_start_hour", 8)
	viper.SetDefault("protections.wasted_solar.window_end_hour", 18)
	viper.SetDefault("storage.path", "solarplan.db")
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}

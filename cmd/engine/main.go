package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"smartgarden/auth"
	"smartgarden/internal/config"
	"smartgarden/internal/cooldown"
	"smartgarden/internal/db"
	"smartgarden/internal/dispatch"
	"smartgarden/internal/engine"
	"smartgarden/internal/mqtt"
	"smartgarden/internal/realtime"
	"smartgarden/internal/redis"
	"smartgarden/internal/scheduler"
	"smartgarden/internal/services"
	"smartgarden/internal/taskqueue"
	"smartgarden/internal/telemetry"
	"smartgarden/internal/utils"
	"smartgarden/internal/web"

	"github.com/hibiken/asynq"
	"github.com/pion/mdns/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	utils.InitLogging(cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()

	dbConn, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to DB")
	}
	defer dbConn.Close()
	if cfg.Database.Migrate {
		if err := dbConn.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate DB")
		}
	}

	redisClient, err := redis.NewRedisClient(ctx, cfg.Redis.Addr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer redisClient.Close()

	mqttClient, err := mqtt.NewClient(mqtt.Config{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MQTT")
	}
	defer mqttClient.Close()

	var cache cooldown.Cache = cooldown.NewMemoryCache()
	if cfg.Cooldown.Backend == config.CooldownRedis {
		cache = cooldown.NewRedisCache(redisClient)
	}

	var source engine.Telemetry = telemetry.NewMemorySource()
	if cfg.Engine.TelemetryBackend == config.CooldownRedis {
		source = telemetry.NewRedisSource(redisClient, cfg.Engine.TelemetryTTL)
	}

	hub := realtime.NewHub()
	defer hub.Close()

	var mailer dispatch.Mailer
	if brevo := dispatch.NewBrevoMailer(cfg.Email.BrevoAPIKey, cfg.Email.SenderName, cfg.Email.SenderEmail); brevo.Enabled() {
		mailer = brevo
	} else {
		log.Warn().Msg("email api key not set, email notifications disabled")
	}

	var queue *taskqueue.Queue
	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr}
	if cfg.UsesRedisQueue() {
		queue = taskqueue.NewQueue(redisOpt)
		defer queue.Close()
	}

	notifier := dispatch.NewOwnerNotifier(hub, mailer, dbConn)
	if queue != nil && cfg.Dispatch.EmailViaTask && mailer != nil {
		notifier.WithQueue(queue)
	}
	dispatcher := dispatch.New(
		services.NewActuatorService(mqttClient, mqttClient.Topics),
		notifier,
		cfg.Dispatch.Workers,
		cfg.Dispatch.QueueSize,
	)
	dispatcher.Start()

	loc, _ := time.LoadLocation(cfg.App.Timezone)
	opts := []engine.Option{
		engine.WithCooldownWindow(cfg.Cooldown.Window),
		engine.WithDefaultLocation(loc),
		engine.WithPushDebounce(cfg.Engine.PushDebounce),
	}
	if cfg.Engine.AutoOff == config.AutoOffQueue {
		opts = append(opts, engine.WithDeferrer(queue))
	}
	if cfg.Engine.PushViaQueue {
		opts = append(opts, engine.WithEvaluationQueue(queue))
	}
	eng := engine.NewEngine(dbConn, source, cache, dispatcher, opts...)

	var worker *taskqueue.Worker
	if queue != nil {
		handlers := taskqueue.Handlers{AutoOff: eng.AutoOff, Evaluate: eng.EvaluateStored}
		if cfg.Dispatch.EmailViaTask {
			handlers.Mailer = mailer
		}
		worker = taskqueue.NewWorker(redisOpt, cfg.Engine.Workers, handlers)
		if err := worker.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start task workers")
		}
	}

	err = mqttClient.Subscribe(mqttClient.Topics.AllTelemetry(), 1, func(topic string, payload []byte) {
		deviceID := utils.ParseDeviceID(topic)
		hctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := eng.HandleTelemetry(hctx, deviceID, payload); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("telemetry message dropped")
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to subscribe to telemetry, push path disabled until reconnect")
	}

	sched := scheduler.NewScheduler(50 * time.Second)
	if err := sched.ScheduleTick(cfg.Engine.TickSpec, eng); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.Engine.TickSpec).Msg("invalid tick spec")
	}
	sched.Start()

	authModule := auth.NewAuthModule(dbConn, redisClient, cfg.JWT.Secret, cfg.JWT.TTL)
	webServer := web.NewWebServer(fmt.Sprintf(":%d", cfg.App.Port), web.Dependencies{
		Engine:  eng,
		Auth:    authModule,
		Devices: dbConn,
		Hub:     hub,
	})
	go func() {
		if err := webServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	if cfg.MDNS.Enabled {
		if conn := startMDNSServer(cfg.MDNS.LocalName); conn != nil {
			defer conn.Close()
		}
	}

	log.Info().Str("agent_id", cfg.App.AgentID).Int("port", cfg.App.Port).Msg("smart garden engine running")

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	sched.Stop()
	if worker != nil {
		worker.Stop()
	}
	eng.Stop()
	dispatcher.Stop()
	log.Info().Int64("dropped_intents", dispatcher.Dropped()).Msg("shutdown complete")
}

// startMDNSServer answers mDNS queries for localName so devices can find
// the engine without a fixed address
func startMDNSServer(localName string) *mdns.Conn {
	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		log.Warn().Err(err).Msg("failed to resolve UDP4 address for mDNS")
		return nil
	}

	addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6)
	if err != nil {
		log.Warn().Err(err).Msg("failed to resolve UDP6 address for mDNS")
		return nil
	}

	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		log.Warn().Err(err).Msg("failed to listen on UDP4 for mDNS")
		return nil
	}

	l6, err := net.ListenUDP("udp6", addr6)
	if err != nil {
		log.Warn().Err(err).Msg("failed to listen on UDP6 for mDNS")
		l4.Close()
		return nil
	}

	conn, err := mdns.Server(ipv4.NewPacketConn(l4), ipv6.NewPacketConn(l6), &mdns.Config{
		LocalNames: []string{localName},
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to start mDNS server")
		return nil
	}
	log.Info().Str("name", localName).Msg("mDNS responder started")
	return conn
}

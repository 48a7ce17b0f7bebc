package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/destromod/crowdnav/internal/config"
	"github.com/destromod/crowdnav/internal/core/event"
	coresys "github.com/destromod/crowdnav/internal/core/system"
	"github.com/destromod/crowdnav/internal/crowd"
	"github.com/destromod/crowdnav/internal/data"
	"github.com/destromod/crowdnav/internal/handler"
	"github.com/destromod/crowdnav/internal/nav"
	gonet "github.com/destromod/crowdnav/internal/net"
	"github.com/destromod/crowdnav/internal/net/packet"
	"github.com/destromod/crowdnav/internal/persist"
	"github.com/destromod/crowdnav/internal/scripting"
	"github.com/destromod/crowdnav/internal/system"
	"github.com/destromod/crowdnav/internal/world"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m             crowdnav  v0.1.0              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m     aggro-gated crowd pathfinding         \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s \033[90m(id: %d)\033[0m\n\n", serverName, serverID)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printSkip(msg string) {
	fmt.Printf("  \033[90m–\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/crowdnav.toml"
	if p := os.Getenv("CROWDNAV_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	// 3. Optional database
	printSection("Database")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var db *persist.DB
	if cfg.Database.DSN != "" {
		db, err = persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")
		version, err := db.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK(fmt.Sprintf("schema at version %d", version))
	} else {
		printSkip("no dsn, journal disabled")
	}
	fmt.Println()

	// 4. Load tables and scripts
	printSection("Data")
	profiles, err := data.LoadProfileTable(cfg.AI.ProfilesPath)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}
	printStat("AI profiles", profiles.Count())

	luaEngine, err := scripting.NewEngine(cfg.AI.ScriptsDir, log)
	if err != nil {
		return fmt.Errorf("scripting: %w", err)
	}
	defer luaEngine.Close()
	if luaEngine.HasFunc("decide_state") {
		printOK("decide_state script loaded")
	} else {
		printSkip("no decide_state script, using built-in rules")
	}
	fmt.Println()

	// 5. Navigation engine
	printSection("Navigation")
	navClient := nav.NewClient(cfg.Navigation, log)
	if err := navClient.WaitHealthy(ctx, cfg.Navigation.HealthRetries, cfg.Navigation.HealthRetryDelay); err != nil {
		// The AI falls back to local movement until a later probe succeeds.
		log.Warn("navigation engine unavailable at startup", zap.Error(err))
		printSkip("engine unreachable, local movement only")
	} else {
		printOK(fmt.Sprintf("engine ready at %s", cfg.Navigation.ServiceURL))
	}
	fmt.Println()

	// 6. World, crowd and handlers
	worldState := world.NewState()
	bus := event.NewBus()
	crowdMgr := crowd.NewManager(cfg.Crowd, navClient, worldState, bus, log)
	store := gonet.NewSessionStore()
	broadcaster := handler.NewBroadcaster(store)

	deps := &handler.Deps{
		Config:    cfg,
		Log:       log,
		World:     worldState,
		Crowd:     crowdMgr,
		Profiles:  profiles,
		Bus:       bus,
		Broadcast: broadcaster,
		Rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	pktReg := packet.NewRegistry(log)
	handler.RegisterAll(pktReg, deps)

	if cfg.AI.Standalone {
		printSection("Spawns")
		entries, err := data.LoadSpawnList(cfg.AI.SpawnListPath)
		if err != nil {
			return fmt.Errorf("load spawn list: %w", err)
		}
		spawned, failed := handler.SpawnFromList(deps, entries)
		printStat("NPCs spawned", spawned)
		if failed > 0 {
			printStat("spawns rejected", failed)
		}
		fmt.Println()
	}

	// 7. Create network server
	netServer, err := gonet.NewServer(cfg.Network.BindAddress, gonet.SessionOptions{
		InQueueSize:  cfg.Network.InQueueSize,
		OutQueueSize: cfg.Network.OutQueueSize,
		PktPerSec:    cfg.Network.MaxPacketsPerSec,
		ReadTimeout:  cfg.Network.ReadTimeout,
		WriteTimeout: cfg.Network.WriteTimeout,
		ServerName:   cfg.Server.Name,
		ServerID:     cfg.Server.ID,
		MaxFeeds:     cfg.Network.MaxFeeds,
	}, log)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}
	go netServer.AcceptLoop()

	// 8. Create systems and register with runner
	aiSys := system.NewNpcAISystem(worldState, deps, luaEngine, navClient)
	driver := crowd.NewDriver(cfg.Crowd, crowdMgr, broadcaster, aiSys, log)

	runner := coresys.NewRunner(log, cfg.Network.TickRate)
	runner.Register(system.NewInputSystem(netServer, pktReg, store, bus, cfg.Network.MaxPacketsPerTick, log))
	runner.Register(system.NewEventDispatchSystem(bus))
	runner.Register(aiSys)
	runner.Register(system.NewCrowdTickSystem(driver))
	runner.Register(system.NewOutputSystem(store))
	var persistSys *system.PersistenceSystem
	if db != nil {
		persistSys = system.NewPersistenceSystem(bus, crowdMgr,
			persist.NewJournalRepo(db, cfg.Server.ID),
			persist.NewStatsRepo(db, cfg.Server.ID),
			cfg.Database.StatsInterval, 5*time.Second, log)
		runner.Register(persistSys)
	}
	runner.Register(system.NewSweepSystem(crowdMgr, cfg.Crowd.CleanupInterval, 10*time.Second, log))

	// 9. Start game loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Network.TickRate)
	defer ticker.Stop()

	printSection("Ready")
	printReady(fmt.Sprintf("listening on %s", netServer.Addr().String()))
	printReady(fmt.Sprintf("game loop running (tick: %s, max agents: %d)", cfg.Network.TickRate, cfg.Crowd.MaxAgents))
	fmt.Println()

	healthTicker := time.NewTicker(healthProbeInterval)
	defer healthTicker.Stop()

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Network.TickRate)
		case <-healthTicker.C:
			go reprobe(navClient, cfg.Navigation.HealthTimeout, log)
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			return shutdown(netServer, crowdMgr, persistSys, cfg, log)
		}
	}
}

const healthProbeInterval = 10 * time.Second

// reprobe checks engine health and logs ready transitions. A failed probe
// drops the crowd to local chasing until a later probe succeeds.
func reprobe(c *nav.Client, timeout time.Duration, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	was := c.Ready()
	err := c.Health(ctx)
	switch {
	case err == nil && !was:
		log.Info("navigation engine back online")
	case err != nil && was:
		log.Warn("navigation engine lost", zap.Error(err))
	}
}

// shutdown stops accepting feeds, evicts every crowd agent and writes the
// remaining journal rows. All steps run even when an earlier one fails.
func shutdown(srv *gonet.Server, mgr *crowd.Manager, ps *system.PersistenceSystem, cfg *config.Config, log *zap.Logger) error {
	var err error
	err = multierr.Append(err, srv.Shutdown())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Navigation.RequestTimeout*time.Duration(cfg.Crowd.MaxAgents+1))
	defer cancel()
	mgr.Shutdown(ctx)
	if ctx.Err() != nil {
		err = multierr.Append(err, fmt.Errorf("crowd shutdown: %w", ctx.Err()))
	}

	if ps != nil {
		ps.FlushNow()
	}
	if err != nil {
		log.Error("shutdown finished with errors", zap.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/meridian/decisiondesk/internal/clients/prices"
	"github.com/meridian/decisiondesk/internal/clients/roles"
	"github.com/meridian/decisiondesk/internal/config"
	"github.com/meridian/decisiondesk/internal/database"
	"github.com/meridian/decisiondesk/internal/events"
	"github.com/meridian/decisiondesk/internal/modules/ideas"
	"github.com/meridian/decisiondesk/internal/modules/labs"
	"github.com/meridian/decisiondesk/internal/modules/permissions"
	"github.com/meridian/decisiondesk/internal/modules/portfolio"
	"github.com/meridian/decisiondesk/internal/modules/sheets"
	"github.com/meridian/decisiondesk/internal/reliability"
	"github.com/meridian/decisiondesk/internal/requests"
	"github.com/meridian/decisiondesk/internal/scheduler"
	"github.com/meridian/decisiondesk/internal/server"
	"github.com/meridian/decisiondesk/pkg/logger"
)

func main() {
	// Initialize logger
	log := logger.New(logger.Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Pretty: os.Getenv("DEV_MODE") == "true",
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting Decision Desk")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// desk.db - ideas, tracks, proposals, labs, variants and portfolio
	// reference data
	deskDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "desk.db"),
		Profile: database.ProfileStandard,
		Name:    "desk",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize desk database")
	}
	defer deskDB.Close()

	// ledger.db - trade sheets, the idempotency log and the audit trail.
	// Maximum durability: a sheet acknowledged is a sheet on disk.
	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ledger database")
	}
	defer ledgerDB.Close()

	for _, db := range []*database.DB{deskDB, ledgerDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Failed to run migrations")
		}
	}

	// Permissions: roles come from the remote identity service when one is
	// configured, otherwise from the local membership table
	membershipRepo := permissions.NewMembershipRepository(deskDB.Conn(), log)
	var roleProvider permissions.RoleProvider = membershipRepo
	if cfg.RoleServiceURL != "" {
		roleProvider = roles.NewClient(cfg.RoleServiceURL, log)
		log.Info().Str("url", cfg.RoleServiceURL).Msg("Using remote role provider")
	}
	roleCache := permissions.NewRoleCache(roleProvider, cfg.RoleCacheTTL, log)
	perms := permissions.NewEngine(roleCache, membershipRepo, log)

	requestLog := requests.NewLog(ledgerDB.Conn(), log)
	eventMgr := events.NewManager(ledgerDB.Conn(), log)

	// Idea lifecycle
	ideaRepo := ideas.NewRepository(deskDB.Conn(), log)
	ideaService := ideas.NewService(ideaRepo, perms, requestLog, eventMgr, log)
	ideasHandler := ideas.NewHandler(ideaService, log)

	// Portfolio reference data backs position lookups and sizing context
	portfolioRepo := portfolio.NewRepository(deskDB.Conn(), log)

	var priceFeed labs.PriceFeed
	if cfg.PriceFeedEnabled {
		priceFeed = prices.NewYFinanceFeed(log)
	} else {
		priceFeed = prices.NewStaticFeed(nil)
		log.Warn().Msg("Price feed disabled, variants will save without computed values")
	}

	// Labs
	labRepo := labs.NewRepository(deskDB.Conn(), log)
	arena := labs.NewArena()
	labService := labs.NewService(labRepo, arena, priceFeed, portfolioRepo, portfolioRepo, requestLog, eventMgr, log)
	revalidator := labs.NewRevalidationProcessor(labRepo, labService, eventMgr, log)
	labsHandler := labs.NewHandler(labService, revalidator, log)

	// Trade sheets
	sheetRepo := sheets.NewRepository(ledgerDB.Conn(), log)
	assembler := sheets.NewAssembler(sheetRepo, labRepo, requestLog, eventMgr, log)
	sheetsHandler := sheets.NewHandler(assembler, log)

	// Scheduler
	sched := scheduler.New(log)
	revalidationJob := scheduler.NewRevalidationJob(revalidator, log)
	if cfg.PriceFeedEnabled {
		if err := sched.AddJob(cfg.RevalidateSchedule, revalidationJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to register revalidation job")
		}
	}
	if cfg.BackupEnabled {
		backupSvc := reliability.NewBackupService(map[string]*database.DB{
			"desk":   deskDB,
			"ledger": ledgerDB,
		}, cfg.BackupDir, log)
		jobs := []struct {
			schedule string
			job      scheduler.Job
		}{
			{"0 0 * * * *", reliability.NewHourlyBackupJob(backupSvc)},
			{"0 30 2 * * *", reliability.NewDailyBackupJob(backupSvc)},
		}
		for _, j := range jobs {
			if err := sched.AddJob(j.schedule, j.job); err != nil {
				log.Fatal().Err(err).Str("job", j.job.Name()).Msg("Failed to register backup job")
			}
		}
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:           log,
		Config:        cfg,
		DeskDB:        deskDB,
		LedgerDB:      ledgerDB,
		Scheduler:     sched,
		IdeasHandler:  ideasHandler,
		LabsHandler:   labsHandler,
		SheetsHandler: sheetsHandler,
	})
	srv.SetJobs(revalidationJob)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	sched.Stop()

	log.Info().Msg("Shutdown complete")
}

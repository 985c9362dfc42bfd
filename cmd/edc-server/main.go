package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/edc/edc/internal/config"
	"github.com/edc/edc/internal/domain/auditevent"
	"github.com/edc/edc/internal/domain/screening"
	"github.com/edc/edc/internal/domain/study"
	"github.com/edc/edc/internal/platform/audit"
	"github.com/edc/edc/internal/platform/auth"
	"github.com/edc/edc/internal/platform/db"
	"github.com/edc/edc/internal/platform/middleware"
)

// Table ownership per database class. A migration creating one of the other
// class's tables is refused before any SQL runs.
var (
	managementTables = []string{"study", "app_user"}
	tenantTables     = []string{"screening_case", "audit_event", "audit_detail"}
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "edc-server",
		Short: "Clinical data capture API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(studyCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(keygenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to management database")
	}

	reg := db.NewRegistry(pool, cfg.TenantDSNTemplate, cfg.DBMaxConns, cfg.DBMinConns)
	defer reg.Close()
	logger.Info().Msg("connected to management database")

	// Routing rules: which database class owns each entity type. The
	// coordinator refuses to start if any registered manifest lacks a rule.
	router := db.NewRouter(reg)
	router.RegisterManagementEntity(study.EntityType)
	router.RegisterTenantEntity(screening.EntityType, audit.EntityType)

	audit.RegisterManifest(screening.Manifest)

	sealer, err := newSealer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build audit sealer")
	}

	metrics := audit.NewMetrics()
	coord := audit.NewCoordinator(router, sealer, logger, metrics)
	if err := coord.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("audit routing validation failed")
	}

	studySvc := study.NewService(study.NewRepo(pool), reg, cfg.MigrationsDir, logger)
	if err := studySvc.ConnectAll(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect study databases")
	}

	screeningSvc := screening.NewService(screening.NewRepo(router), coord, logger)
	verifier := audit.NewVerifier(reg, sealer, logger, metrics, cfg.VerifyBatchSize, cfg.VerifyConcurrency)
	auditSvc := auditevent.NewService(router, verifier, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Study-ID"},
	}))

	// Open endpoints. Everything under /api/v1 requires auth.
	e.GET("/health", db.HealthHandler(reg))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	var authMW echo.MiddlewareFunc
	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("development auth mode: requests run as a built-in admin user")
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		})
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond:      cfg.RateLimitRPS,
		BurstSize:              cfg.RateLimitBurst,
		StudyRequestsPerSecond: cfg.StudyRateLimitRPS,
		StudyBurstSize:         cfg.StudyRateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	rateLimitMW := middleware.RateLimit(rateLimitCfg)

	// Management scope: study registry and the cross-study verification
	// trigger run against the management database only.
	mgmtAPI := e.Group("/api/v1", authMW, rateLimitMW)
	study.NewHandler(studySvc, logger).RegisterRoutes(mgmtAPI)
	auditHandler := auditevent.NewHandler(auditSvc, logger)
	auditHandler.RegisterAdminRoutes(mgmtAPI)

	// Study scope: the tenant middleware resolves the caller's study and
	// dials its database before any handler runs.
	studyAPI := e.Group("/api/v1", authMW, rateLimitMW, db.TenantMiddleware(reg))
	screening.NewHandler(screeningSvc, logger).RegisterRoutes(studyAPI)
	auditHandler.RegisterRoutes(studyAPI)

	addr := ":" + cfg.Port
	go func() {
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()
	logger.Info().Str("addr", addr).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newSealer builds the HMAC sealer from the configured keys. Development
// falls back to an ephemeral random key so local trails still get sealed;
// production refuses to start without a configured key.
func newSealer(cfg *config.Config, logger zerolog.Logger) (*audit.Sealer, error) {
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("AUDIT_SIGNING_KEY is required in production")
		}
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		logger.Warn().Msg("AUDIT_SIGNING_KEY not set: using an ephemeral key, seals will not survive restart")
	}
	previous, err := cfg.PreviousSigningKeys()
	if err != nil {
		return nil, err
	}
	return audit.NewSealer(key, previous...)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			return withMigrators(kind, func(target string, m *db.Migrator) error {
				count, err := m.Up(context.Background())
				if err != nil {
					return fmt.Errorf("migrate %s: %w", target, err)
				}
				fmt.Printf("%s: applied %d migration(s)\n", target, count)
				return nil
			})
		},
	}
	upCmd.Flags().String("kind", "all", "Database class to migrate: management, tenant or all")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			return withMigrators(kind, func(target string, m *db.Migrator) error {
				statuses, err := m.Status(context.Background())
				if err != nil {
					return fmt.Errorf("status %s: %w", target, err)
				}
				fmt.Printf("Migration status: %s\n", target)
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("kind", "all", "Database class to inspect: management, tenant or all")
	cmd.AddCommand(statusCmd)

	return cmd
}

// withMigrators runs fn against the migrator for each selected database:
// the management database and/or every active study database.
func withMigrators(kind string, fn func(target string, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	reg := db.NewRegistry(pool, cfg.TenantDSNTemplate, cfg.DBMaxConns, cfg.DBMinConns)
	defer reg.Close()

	if kind == "management" || kind == "all" {
		m := db.NewMigrator(pool, cfg.MigrationsDir, db.KindManagement)
		m.ForbidTables(tenantTables...)
		if err := fn("management", m); err != nil {
			return err
		}
	}

	if kind == "tenant" || kind == "all" {
		studies, err := study.NewRepo(pool).ListActive(ctx)
		if err != nil {
			return err
		}
		for _, st := range studies {
			tenantPool, err := reg.Connect(ctx, st.StudyID)
			if err != nil {
				return fmt.Errorf("connect study %s: %w", st.StudyID, err)
			}
			m := db.NewMigrator(tenantPool, cfg.MigrationsDir, db.KindTenant)
			m.ForbidTables(managementTables...)
			if err := fn("study "+st.StudyID, m); err != nil {
				return err
			}
		}
	}

	if kind != "management" && kind != "tenant" && kind != "all" {
		return fmt.Errorf("unknown kind %q: want management, tenant or all", kind)
	}
	return nil
}

func studyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "study",
		Short: "Manage studies",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new study and provision its database",
		RunE: func(cmd *cobra.Command, args []string) error {
			studyID, _ := cmd.Flags().GetString("study-id")
			name, _ := cmd.Flags().GetString("name")
			sponsor, _ := cmd.Flags().GetString("sponsor")
			protocol, _ := cmd.Flags().GetString("protocol")
			if studyID == "" || name == "" {
				return fmt.Errorf("--study-id and --name are required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			reg := db.NewRegistry(pool, cfg.TenantDSNTemplate, cfg.DBMaxConns, cfg.DBMinConns)
			defer reg.Close()

			svc := study.NewService(study.NewRepo(pool), reg, cfg.MigrationsDir, newLogger())
			in := study.CreateInput{StudyID: studyID, Name: name}
			if sponsor != "" {
				in.Sponsor = &sponsor
			}
			if protocol != "" {
				in.Protocol = &protocol
			}
			st, err := svc.Create(ctx, in)
			if err != nil {
				return err
			}
			fmt.Printf("Study %s registered and provisioned (id %s)\n", st.StudyID, st.ID)
			return nil
		},
	}
	createCmd.Flags().String("study-id", "", "Study identifier (lowercase alphanumerics and underscores)")
	createCmd.Flags().String("name", "", "Study display name")
	createCmd.Flags().String("sponsor", "", "Sponsor name")
	createCmd.Flags().String("protocol", "", "Protocol identifier")
	cmd.AddCommand(createCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered studies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			studies, _, err := study.NewRepo(pool).List(ctx, 1000, 0)
			if err != nil {
				return err
			}
			fmt.Printf("%-20s %-40s %-8s\n", "STUDY ID", "NAME", "ACTIVE")
			for _, st := range studies {
				fmt.Printf("%-20s %-40s %-8t\n", st.StudyID, st.Name, st.Active)
			}
			return nil
		},
	}
	cmd.AddCommand(listCmd)

	return cmd
}

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-check audit trail seals across all studies",
		RunE: func(cmd *cobra.Command, args []string) error {
			sinceRaw, _ := cmd.Flags().GetString("since")
			var since time.Time
			if sinceRaw != "" {
				t, err := time.Parse(time.RFC3339, sinceRaw)
				if err != nil {
					return fmt.Errorf("--since must be RFC 3339: %w", err)
				}
				since = t
			}

			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			reg := db.NewRegistry(pool, cfg.TenantDSNTemplate, cfg.DBMaxConns, cfg.DBMinConns)
			defer reg.Close()

			svc := study.NewService(study.NewRepo(pool), reg, cfg.MigrationsDir, logger)
			if err := svc.ConnectAll(ctx); err != nil {
				return err
			}

			sealer, err := newSealer(cfg, logger)
			if err != nil {
				return err
			}
			verifier := audit.NewVerifier(reg, sealer, logger, audit.NewMetrics(), cfg.VerifyBatchSize, cfg.VerifyConcurrency)
			report, err := verifier.Run(ctx, since, "cli")
			if err != nil {
				return err
			}
			fmt.Printf("Studies: %d  Checked: %d  Mismatches: %d\n", report.Studies, report.Checked, report.Mismatches)
			if report.Mismatches > 0 {
				return fmt.Errorf("%d audit event(s) failed verification", report.Mismatches)
			}
			return nil
		},
	}
	cmd.Flags().String("since", "", "Only verify events at or after this RFC 3339 timestamp")
	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new audit signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(key))
			return nil
		},
	}
}

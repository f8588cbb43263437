package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/claude-collab/backend/api/handlers"
	"github.com/claude-collab/backend/internal/config"
	"github.com/claude-collab/backend/internal/db"
	"github.com/claude-collab/backend/internal/files"
	"github.com/claude-collab/backend/internal/logger"
	"github.com/claude-collab/backend/internal/repository"
	"github.com/claude-collab/backend/internal/session"
	"github.com/claude-collab/backend/internal/settings"
	"github.com/claude-collab/backend/internal/tasks"
	"github.com/claude-collab/backend/internal/ws"
	"github.com/claude-collab/backend/pkg/driver"
)

// portAttempts is how many consecutive ports are tried when the preferred one is taken.
const portAttempts = 10

var (
	configPath string
	portFlag   string
	driverFlag string
	workDir    string
	memoryDB   bool
)

var rootCmd = &cobra.Command{
	Use:   "collab-server",
	Short: "Run the agent session server",
	Long: `Serve a shared agent session over WebSocket, with a task queue,
a read-only file browser and a settings API.`,
	SilenceUsage: true,
	RunE:         runServer,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "collab.yaml", "path to the YAML config file")
	rootCmd.Flags().StringVarP(&portFlag, "port", "p", "", "port to listen on (overrides config)")
	rootCmd.Flags().StringVar(&driverFlag, "driver", "", "agent driver: claude, anthropic or replay")
	rootCmd.Flags().StringVar(&workDir, "work-dir", "", "workspace directory for the agent and file browser")
	rootCmd.Flags().BoolVar(&memoryDB, "memory", false, "keep tasks in memory instead of SQLite")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	// .env is optional; values already in the environment win.
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if portFlag != "" {
		cfg.Port = portFlag
	}
	if driverFlag != "" {
		cfg.Agent.Driver = driverFlag
	}
	if workDir != "" {
		cfg.WorkDir = workDir
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Task storage
	var store tasks.Store
	if memoryDB || cfg.DBPath == "" {
		store = tasks.NewMemoryStore()
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		database, err := db.InitDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.CloseDB()
		store = repository.NewTaskRepository(database)
	}
	registry := tasks.NewRegistry(store)

	// Agent
	agent, err := driver.New(driver.Config{
		Kind:            cfg.Agent.Driver,
		ClaudeBinary:    cfg.Agent.ClaudeBinary,
		WorkDir:         cfg.WorkDir,
		MaxTurns:        cfg.Agent.MaxTurns,
		PartialMessages: cfg.Agent.PartialMessages,
		Model:           cfg.Agent.Model,
		APIKey:          cfg.Agent.APIKey,
		ReplayFile:      cfg.Agent.ReplayFile,
		ReplayDelay:     cfg.Agent.ReplayDelay,
		Logger:          log,
	})
	if err != nil {
		return err
	}

	sessions := session.NewManager(agent, session.Config{
		Model:            cfg.Agent.Model,
		RoutePermissions: cfg.Agent.RoutePermissions,
		Logger:           log,
	})
	defer sessions.Close()

	// Frame transcript
	var recorder ws.Recorder
	if cfg.LogDir != "" {
		transcript, err := logger.NewTranscript(cfg.LogDir)
		if err != nil {
			return err
		}
		defer transcript.Close()
		if err := transcript.WriteHeader(agent.Name(), map[string]string{"WORK_DIR": cfg.WorkDir}); err != nil {
			return err
		}
		recorder = transcript
		log.Info("recording frames", "path", transcript.Path())
	}

	hub := ws.NewHub()
	defer hub.Close()
	service := ws.NewService(hub, sessions, registry, log)

	tree, err := files.NewTree(cfg.WorkDir)
	if err != nil {
		return err
	}
	apiKey := func() string { return getEnv("ANTHROPIC_API_KEY", cfg.Agent.APIKey) }

	// Initialize handlers
	wsHandler := handlers.NewWebSocketHandler(ws.NewHandler(hub, service, recorder, log))
	agentHandler := handlers.NewAgentHandler(sessions)
	taskHandler := handlers.NewTaskHandler(registry, service)
	fileHandler := handlers.NewFileHandler(tree, files.NewSynopsizer(tree, apiKey))
	settingsHandler := handlers.NewSettingsHandler(settings.NewStore(cfg.EnvFile))
	livekitHandler := handlers.NewLiveKitHandler(func() handlers.LiveKitCredentials {
		return handlers.LiveKitCredentials{
			APIKey:    getEnv("LIVEKIT_API_KEY", cfg.LiveKit.APIKey),
			APISecret: getEnv("LIVEKIT_API_SECRET", cfg.LiveKit.APISecret),
			WSURL:     getEnv("LIVEKIT_WS_URL", cfg.LiveKit.WSURL),
		}
	})

	// Initialize Gin router
	r := gin.Default()

	// Enable CORS for development
	r.Use(corsMiddleware())

	r.GET("/health", agentHandler.Health)
	wsHandler.RegisterRoutes(r)

	// API routes
	api := r.Group("/api")
	{
		agentHandler.RegisterRoutes(api)
		taskHandler.RegisterRoutes(api)
		fileHandler.RegisterRoutes(api)
		settingsHandler.RegisterRoutes(api)
		livekitHandler.RegisterRoutes(api)
	}

	if cfg.StaticDir != "" {
		r.NoRoute(spaHandler(cfg.StaticDir))
	}

	ln, port, err := listen(cfg.Port)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sessions.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown failed", "error", err)
		}
	}()

	log.Info("server running", "url", fmt.Sprintf("http://localhost:%d", port), "driver", agent.Name(), "work_dir", tree.Root())
	log.Info("websocket available", "url", fmt.Sprintf("ws://localhost:%d/ws", port))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// listen binds the preferred port or the next free one after it.
func listen(preferred string) (net.Listener, int, error) {
	base, err := strconv.Atoi(preferred)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid port %q: %w", preferred, err)
	}
	for i := 0; i < portAttempts; i++ {
		port := base + i
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return ln, port, nil
		}
		slog.Warn("port in use, trying next", "port", port)
	}
	return nil, 0, fmt.Errorf("no available port found in range %d-%d", base, base+portAttempts-1)
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// spaHandler serves files from dir and falls back to index.html for client routes.
func spaHandler(dir string) gin.HandlerFunc {
	index := filepath.Join(dir, "index.html")
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if strings.HasPrefix(p, "/api") || strings.HasPrefix(p, "/ws") {
			c.JSON(http.StatusNotFound, handlers.ErrorResponse{
				Error: handlers.ErrorDetail{Code: "NOT_FOUND", Message: "route not found"},
			})
			return
		}
		file := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+p)))
		if info, err := os.Stat(file); err == nil && !info.IsDir() {
			c.File(file)
			return
		}
		c.File(index)
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

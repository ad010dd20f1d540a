package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/luma/conduit/storage"
	"github.com/luma/conduit/transport"
)

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort int

	// The port to listen for RESP clients on
	port int
)

func init() {
	flags := ServeCmd.Flags()

	flags.IntVarP(&port, "port", "p", 0, "The port to listen client connections on")
	flags.IntVar(&httpPort, "http-port", 0, "The port to serve /ping and /metrics on")
	flags.StringVarP(&host, "host", "a", "", "The host to listen on")
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the RESP development server",
	Long: `Start the RESP development server

Usage
	conduit serve --port 6379 --http-port 7362

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, log, err := setup(ctx)
		if err != nil {
			return err
		}

		server := conf.Server
		if cmd.Flags().Changed("host") {
			server.Host = host
		}
		if cmd.Flags().Changed("port") {
			server.Port = port
		}
		if cmd.Flags().Changed("http-port") {
			server.HTTPPort = httpPort
		}

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		store := storage.NewInmemoryStore()
		if err := loadSnapshot(store, server.SnapshotPath); err != nil {
			return err
		}

		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		router := setupRouter(server.DebugHTTP, log)

		// Ping test
		router.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

		s := &http.Server{
			Addr:    net.JoinHostPort(server.Host, strconv.Itoa(server.HTTPPort)),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		tcp := transport.NewTCP(transport.Options{
			Host:         server.Host,
			Port:         server.Port,
			Reuseport:    server.Reuseport,
			NumListeners: server.Listeners,
			Password:     server.Password,
			Trace:        conf.Debug,
			Store:        store,
			Registerer:   registry,
			Log:          log.Named("transport"),
		})

		if err := tcp.Start(ctx); err != nil {
			return err
		}

		log.Info("Listening",
			zap.String("addr", tcp.Addr()),
			zap.Int("httpPort", server.HTTPPort),
			zap.String("snapshot", server.SnapshotPath))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(ctx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if err := tcp.Close(); err != nil {
			log.Error("TCP server forced to shutdown", zap.Error(err))
		}

		if err := saveSnapshot(store, server.SnapshotPath); err != nil {
			log.Error("Failed to write snapshot", zap.Error(err))
		}

		log.Info("Exiting")
		return store.Close()
	},
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Logs all requests, like a combined access and error log, with UTC
	// RFC3339 times. Scrapes are left out.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/metrics"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func setFileLimit() (uint64, error) {
	var rLimit unix.Rlimit

	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}

func loadSnapshot(store storage.Store, path string) error {
	if path == "" {
		return nil
	}

	doc, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	return store.Restore(doc)
}

func saveSnapshot(store storage.Store, path string) error {
	if path == "" {
		return nil
	}

	doc, err := store.Backup()
	if err != nil {
		return err
	}

	return os.WriteFile(path, doc, 0600)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nmslite/nmslite/internal/auth"
	"github.com/nmslite/nmslite/internal/bridge"
	"github.com/nmslite/nmslite/internal/commandhandler"
	"github.com/nmslite/nmslite/internal/config"
	"github.com/nmslite/nmslite/internal/connection"
	"github.com/nmslite/nmslite/internal/credentials"
	"github.com/nmslite/nmslite/internal/history"
	"github.com/nmslite/nmslite/internal/hostmanager"
	"github.com/nmslite/nmslite/internal/modules"
	"github.com/nmslite/nmslite/internal/modules/connectors"
	"github.com/nmslite/nmslite/internal/modules/monitors"
	"github.com/nmslite/nmslite/internal/monitormanager"
	"github.com/nmslite/nmslite/internal/registry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the three-document configuration stream")
	dumpConfig := flag.Bool("dump-config", false, "dump an example configuration to stdout and exit")
	flag.Parse()

	if *dumpConfig {
		if err := config.DumpExampleConfig(os.Stdout); err != nil {
			log.Fatalf("dump example config: %v", err)
		}
		os.Exit(0)
	}

	mainCfg, hostsDoc, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := config.InitLogger(mainCfg.Logging, os.Stdout)
	logger.Info("starting nmslite", "host", mainCfg.Server.Host, "port", mainCfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := initHistoryStore(ctx, mainCfg.Database, logger)
	defer store.Close()
	go store.Run(ctx)

	authService := initAuthService(mainCfg.Auth)
	credService, err := initCredentialService(mainCfg.Auth, hostsDoc)
	if err != nil {
		log.Fatalf("init credential service: %v", err)
	}

	reg := registry.New()
	modules.RegisterBuiltins(reg)

	cache := connection.NewResponseCache(connection.Settings{
		Enable:              mainCfg.CacheSettings.EnableCache,
		ProvideInitialValue: mainCfg.CacheSettings.ProvideInitialValue,
		InitialValueTTL:     mainCfg.CacheSettings.InitialValueTTL(),
		PreferCache:         mainCfg.CacheSettings.PreferCache,
		TTL:                 mainCfg.CacheSettings.TTL(),
	})
	connMgr := connection.NewManager(reg, credService, cache, logger)
	defer connMgr.Close()

	hosts := hostmanager.New(logger, 1024)
	hosts.SetHistoryListener(store.Listen)

	monitorCfgs, commandCfgs := buildHostConfigs(mainCfg.DisplayOptions, hostsDoc, hosts)

	monitorCache := monitormanager.CacheSettings{
		EnableCache:         mainCfg.CacheSettings.EnableCache,
		PreferCache:         mainCfg.CacheSettings.PreferCache,
		ProvideInitialValue: mainCfg.CacheSettings.ProvideInitialValue,
	}
	monitors := monitormanager.New(reg, connMgr, hosts, monitorCache, logger)
	if err := monitors.Configure(monitorCfgs); err != nil {
		log.Fatalf("configure monitors: %v", err)
	}

	commands := commandhandler.New(connMgr, hosts, logger)
	if err := commands.Configure(reg, commandCfgs); err != nil {
		log.Fatalf("configure commands: %v", err)
	}

	go hosts.Run(ctx)

	if mainCfg.Preferences.RefreshHostsOnStart {
		bootstrapHosts(monitorCfgs, monitors, logger)
	}

	httpBridge := bridge.New(authService, hosts, monitors, commands, store, logger)
	httpBridge.Run()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", mainCfg.Server.Host, mainCfg.Server.Port),
		Handler:      httpBridge.Handler(),
		ReadTimeout:  mainCfg.Server.ReadTimeout(),
		WriteTimeout: mainCfg.Server.WriteTimeout(),
	}

	go startServer(srv, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownServer(cancel, srv, logger)
}

func initHistoryStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) *history.Store {
	if err := history.Migrate(cfg); err != nil {
		log.Fatalf("run history migrations: %v", err)
	}
	store, err := history.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open history store: %v", err)
	}
	return store
}

func initAuthService(cfg config.AuthConfig) *auth.Service {
	service, err := auth.NewService(cfg.JWTSecret, cfg.AdminUsername, cfg.AdminPassword, cfg.JWTExpiry())
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}
	return service
}

func initCredentialService(cfg config.AuthConfig, hostsDoc *config.HostsDocument) (*credentials.Service, error) {
	security, err := credentials.NewSecurity(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	service := credentials.NewService(security)
	service.Configure(hostsDoc)
	return service, nil
}

// buildHostConfigs seeds the Host Manager with every configured host and
// returns the corresponding Monitor Manager / Command Handler configuration
// lists, with each monitor/command's category derived from which
// display_options.categories entry lists its id.
func buildHostConfigs(display config.DisplayOptionsDoc, hostsDoc *config.HostsDocument, hosts *hostmanager.Manager) ([]monitormanager.HostConfig, []commandhandler.HostConfig) {
	monitorConfigs := make([]monitormanager.HostConfig, 0, len(hostsDoc.Hosts))
	commandConfigs := make([]commandhandler.HostConfig, 0, len(hostsDoc.Hosts))

	for name, doc := range hostsDoc.Hosts {
		host := config.ToDomainHost(name, doc)
		hosts.Seed(host)

		monitorCfgs := make([]monitormanager.MonitorConfig, 0, len(doc.Monitors))
		for id, ref := range doc.Monitors {
			monitorSettings := ref.Settings
			if id == monitors.PlatformInfoID {
				monitorSettings = withResolvedConnector(monitorSettings, doc)
			}
			monitorCfgs = append(monitorCfgs, monitormanager.MonitorConfig{
				Spec:       config.ToModuleSpec(id, ref),
				Category:   display.MonitorCategory(id),
				IsCritical: ref.IsCritical,
				Settings:   monitorSettings,
			})
		}
		monitorConfigs = append(monitorConfigs, monitormanager.HostConfig{Host: host, Monitors: monitorCfgs})

		commandCfgs := make([]commandhandler.CommandConfig, 0, len(doc.Commands))
		for id, ref := range doc.Commands {
			commandCfgs = append(commandCfgs, commandhandler.CommandConfig{
				Spec:     config.ToModuleSpec(id, ref),
				Settings: ref.Settings,
			})
		}
		commandConfigs = append(commandConfigs, commandhandler.HostConfig{Host: host, Commands: commandCfgs})
	}

	return monitorConfigs, commandConfigs
}

// shellConnectorPriority lists, in preference order, the connector ids that
// can run an arbitrary shell command — the set platform-info's bootstrap
// probe can ride on. SNMP is excluded (OID-based, not shell); unix-socket-http
// is excluded (HTTP path based, not shell).
var shellConnectorPriority = []string{
	connectors.SSHSpecID,
	connectors.WinRMSpecID,
	connectors.LocalSpecID,
}

// withResolvedConnector ensures platform-info's settings carry an explicit
// "connector" key, so its Monitor instance never defaults to SSH on a host
// that was never given SSH credentials. It defers to an operator-pinned
// value, otherwise picks the host's first configured shell-capable
// connector, falling back to "local" when none is configured.
func withResolvedConnector(settings map[string]string, doc config.HostDoc) map[string]string {
	if settings["connector"] != "" {
		return settings
	}
	out := make(map[string]string, len(settings)+1)
	for k, v := range settings {
		out[k] = v
	}
	out["connector"] = primaryShellConnector(doc)
	return out
}

func primaryShellConnector(doc config.HostDoc) string {
	for _, id := range shellConnectorPriority {
		if _, ok := doc.Connectors[id]; ok {
			return id
		}
	}
	return connectors.LocalSpecID
}

// bootstrapHosts runs the platform-info bootstrap probe for every host that
// configured it, matching preferences.refresh_hosts_on_start.
func bootstrapHosts(monitorCfgs []monitormanager.HostConfig, monitors *monitormanager.Manager, logger *slog.Logger) {
	for _, hc := range monitorCfgs {
		if err := monitors.RefreshPlatformInfo(hc.Host.Name, nil); err != nil {
			logger.Warn("bootstrap platform-info failed", "host", hc.Host.Name, "error", err)
		}
	}
}

func startServer(srv *http.Server, logger *slog.Logger) {
	logger.Info("http server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func shutdownServer(cancel context.CancelFunc, srv *http.Server, logger *slog.Logger) {
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server stopped gracefully")
}

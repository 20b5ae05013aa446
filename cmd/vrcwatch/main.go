// Package main provides the entry point for vrcwatch.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/graaaaa/vrcwatch/internal/api"
	"github.com/graaaaa/vrcwatch/internal/app"
	"github.com/graaaaa/vrcwatch/internal/appinfo"
	"github.com/graaaaa/vrcwatch/internal/config"
	"github.com/graaaaa/vrcwatch/internal/enrich"
	"github.com/graaaaa/vrcwatch/internal/event"
	"github.com/graaaaa/vrcwatch/internal/hub"
	"github.com/graaaaa/vrcwatch/internal/notify"
	"github.com/graaaaa/vrcwatch/internal/procwatch"
	"github.com/graaaaa/vrcwatch/internal/singleinstance"
	"github.com/graaaaa/vrcwatch/internal/store"
	"github.com/graaaaa/vrcwatch/internal/tail"
	"github.com/graaaaa/vrcwatch/internal/track"
	"github.com/graaaaa/vrcwatch/internal/version"
)

func main() {
	// 1. Single instance check (Windows: mutex, other: no-op)
	release, ok, err := singleinstance.AcquireLock()
	if err != nil {
		log.Fatalf("Failed to acquire lock: %v", err)
	}
	if !ok {
		log.Println("Another instance is already running")
		os.Exit(1)
	}
	defer release()

	// 2. Load configuration (corrupt config falls back to defaults with warning)
	cfg, _ := config.LoadConfig()
	cfg = config.ApplyEnvOverrides(cfg)
	secrets, secretsStatus, err := config.LoadSecrets()
	if err != nil {
		log.Printf("Warning: %v", err)
	}

	// 3. Ensure LAN auth credentials if LAN mode is enabled
	updated, generatedPw, err := config.EnsureLanAuth(&secrets, cfg.LanEnabled)
	if err != nil {
		log.Fatalf("Failed to ensure LAN auth: %v", err)
	}

	// Only save if loaded successfully or file was missing (prevent overwrite on fallback)
	if updated && secretsStatus != config.SecretsFallback {
		if err := config.SaveSecrets(secrets); err != nil {
			log.Fatalf("Failed to save secrets: %v", err)
		}
		if generatedPw != "" {
			pwPath, err := config.WritePasswordFile(secrets.BasicAuthUsername, generatedPw)
			if err != nil {
				log.Printf("Warning: failed to write password file: %v", err)
				log.Println("=== GENERATED BASIC AUTH CREDENTIALS ===")
				log.Printf("Username: %s", secrets.BasicAuthUsername)
				log.Printf("Password: %s", generatedPw)
				log.Println("=========================================")
			} else {
				log.Println("=== BASIC AUTH CREDENTIALS GENERATED ===")
				log.Printf("Credentials saved to: %s", pwPath)
				log.Println("Delete this file after saving the credentials!")
				log.Println("=========================================")
			}
		}
	} else if updated && secretsStatus == config.SecretsFallback {
		log.Println("WARNING: Secrets file has errors; new credentials not saved to avoid data loss")
		log.Println("Please fix or delete secrets.json and restart")
	}

	// 4. Parse flags (port can override config)
	port := flag.Int("port", cfg.Port, "HTTP server port")
	flag.Parse()

	// 5. Open SQLite store
	dataDir, err := config.EnsureDataDir()
	if err != nil {
		log.Fatalf("Failed to ensure data directory: %v", err)
	}
	dbPath := filepath.Join(dataDir, appinfo.DatabaseFileName)
	db, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if cfg.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.RetentionDays)
		if res, err := db.PurgeBefore(context.Background(), cutoff); err != nil {
			log.Printf("Warning: retention purge failed: %v", err)
		} else if res.Events > 0 || res.Sessions > 0 {
			log.Printf("Retention purge removed %d events, %d sessions", res.Events, res.Sessions)
		}
	}

	// 6. Two cancellation domains: the pipeline stops first on shutdown, the
	// overlay link stays up until queued notifications have drained.
	pipelineCtx, pipelineCancel := context.WithCancel(context.Background())
	defer pipelineCancel()
	overlayCtx, overlayCancel := context.WithCancel(context.Background())
	defer overlayCancel()

	// 7. Live subscriber hub. The snapshot hook is bound after the status
	// service exists; until then new subscribers simply start live.
	var snapshotSvc *app.SnapshotService
	liveHub := hub.New(hub.WithSnapshot(func() *event.Message {
		if snapshotSvc == nil {
			return nil
		}
		return snapshotSvc.Message()
	}))
	go liveHub.Run()

	// 8. Overlay notifier: WebSocket primary, legacy UDP fallback.
	var wsOpts []notify.WSOption
	if cfg.OverlayWSURL != "" {
		wsOpts = append(wsOpts, notify.WithWSURL(cfg.OverlayWSURL))
	}
	wsTransport := notify.NewWSTransport(wsOpts...)
	go wsTransport.Run(overlayCtx)

	var udpOpts []notify.UDPOption
	if cfg.OverlayUDPAddr != "" {
		udpOpts = append(udpOpts, notify.WithUDPAddr(cfg.OverlayUDPAddr))
	}
	udpTransport := notify.NewUDPTransport(udpOpts...)

	dispatcher := notify.NewDispatcher(wsTransport, udpTransport,
		notify.WithOnPause(func(paused bool) {
			if msg, err := event.NewMessage(event.MsgNotifyPause, event.PauseData{Paused: paused}); err == nil {
				liveHub.Publish(msg)
			}
		}),
	)

	// 9. Enrichment queue. Alerts respect the per-kind config switches.
	client := enrich.NewHTTPClient(secrets)
	queue := enrich.NewQueue(client, db, time.Duration(cfg.EnrichDelaySec)*time.Second,
		enrich.WithOnIdentity(func(id *event.Identity) {
			if msg, err := event.NewMessage(event.MsgIdentityUpdate, id); err == nil {
				liveHub.Publish(msg)
			}
		}),
		enrich.WithOnAlert(func(a enrich.Alert) {
			kind := notify.KindLowTrust
			if a.Flagged {
				kind = notify.KindFlagged
			}
			if a.Flagged && !cfg.NotifyOnFlagged {
				return
			}
			if !a.Flagged && !cfg.NotifyOnLowTrust {
				return
			}
			ctx, cancel := context.WithTimeout(overlayCtx, 5*time.Second)
			defer cancel()
			dispatcher.Notify(ctx, kind, a.DisplayName)
		}),
		enrich.WithOnDepth(func(depth int) {
			if msg, err := event.NewMessage(event.MsgQueueDepth, event.QueueDepthData{Depth: depth}); err == nil {
				liveHub.Publish(msg)
			}
		}),
	)
	go queue.Run(pipelineCtx)

	// 10. Session tracker. Sessions left open by a crash are closed first.
	tracker := track.New(db, queue, liveHub)
	if err := tracker.Prepare(pipelineCtx); err != nil {
		log.Fatalf("Failed to prepare tracker: %v", err)
	}

	// 11. Log tail and process watcher.
	logDir := cfg.LogDir
	if logDir == "" {
		logDir = config.DefaultLogDir()
	}
	if logDir == "" {
		log.Println("Warning: no log directory configured; waiting for VRCWATCH_LOG_DIR or config")
	} else {
		log.Printf("Watching log directory: %s", logDir)
	}
	reader := tail.New(logDir,
		tail.WithPollInterval(time.Duration(cfg.PollMs)*time.Millisecond),
	)
	lines := reader.Start(pipelineCtx)
	go tracker.Run(pipelineCtx, lines)

	watcher := procwatch.New(procwatch.NewProbe(), tracker.ProcessExited)
	go watcher.Run(pipelineCtx)

	// 12. Status and snapshot services over the live components.
	statusSvc := &app.StatusService{
		Sessions: tracker,
		Queue:    queue,
		Notify:   dispatcher,
		Store:    db,
	}
	snapshotSvc = &app.SnapshotService{Status: statusSvc, EventCount: cfg.SnapshotEvents}

	// 13. Determine bind address
	host := "127.0.0.1"
	if cfg.LanEnabled {
		host = "0.0.0.0"
	}
	addr := fmt.Sprintf("%s:%d", host, *port)

	health := app.HealthService{Version: version.String()}
	eventsSvc := &app.EventsService{Store: db}

	serverOpts := []api.ServerOption{
		api.WithEventsUsecase(eventsSvc),
		api.WithStatusUsecase(statusSvc),
		api.WithHub(liveHub),
		api.WithPauser(dispatcher),
		api.WithForcer(queue),
	}

	var limiter *api.RateLimiter
	if cfg.LanEnabled {
		limiter = api.NewRateLimiter(api.DefaultRateLimiterConfig())
		serverOpts = append(serverOpts,
			api.WithRateLimiter(limiter),
			api.WithBasicAuth(secrets.BasicAuthUsername, secrets.BasicAuthPassword.Value()),
		)
		log.Println("Basic Auth and rate limiting enabled for LAN mode")
	}

	server := api.NewServer(addr, health, serverOpts...)

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)

	go func() {
		log.Printf("Starting vrcwatch v%s on %s", version.String(), addr)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-done:
		log.Println("Shutting down...")
	case err := <-errCh:
		log.Printf("Server error: %v", err)
		os.Exit(1)
	}

	// Stop the producers first so nothing new enters the pipeline, then wait
	// for the queue worker to finish its in-flight request.
	pipelineCancel()
	select {
	case <-queue.Done():
	case <-time.After(5 * time.Second):
		log.Println("Enrichment queue did not stop in time")
	}

	// Close all subscriber channels before shutting down the server so the
	// WebSocket handlers return promptly.
	liveHub.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if limiter != nil {
		limiter.Stop()
	}

	// Overlay transports go last so a final notification can still land.
	overlayCancel()
	select {
	case <-wsTransport.Done():
	case <-time.After(3 * time.Second):
	}
	if err := udpTransport.Close(); err != nil {
		log.Printf("UDP transport close error: %v", err)
	}

	log.Println("Server stopped")
}

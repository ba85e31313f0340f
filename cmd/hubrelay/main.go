package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/hubrelay/internal/envelope"
	"github.com/agentworkforce/hubrelay/internal/feed"
	"github.com/agentworkforce/hubrelay/internal/hubspot"
	"github.com/agentworkforce/hubrelay/internal/journal"
	"github.com/agentworkforce/hubrelay/internal/spoolsync"
)

func main() {
	portalID := flag.String("portal", strings.TrimSpace(os.Getenv("HUBRELAY_PORTAL_ID")), "HubSpot portal ID")
	apiKey := flag.String("api-key", strings.TrimSpace(os.Getenv("HUBRELAY_API_KEY")), "HubSpot API key")
	spoolDir := flag.String("spool-dir", strings.TrimSpace(os.Getenv("HUBRELAY_SPOOL_DIR")), "envelope spool directory")
	stateFile := flag.String("state-file", strings.TrimSpace(os.Getenv("HUBRELAY_STATE_FILE")), "spool state file path")
	journalDSN := flag.String("journal-dsn", envOrDefault("HUBRELAY_JOURNAL_DSN", "memory://"), "delivery journal DSN (memory:// or postgres://)")
	feedURL := flag.String("feed-url", strings.TrimSpace(os.Getenv("HUBRELAY_FEED_URL")), "optional live envelope feed websocket URL")
	rescanInterval := flag.Duration("rescan-interval", durationEnv("HUBRELAY_RESCAN_INTERVAL", time.Minute), "spool rescan interval")
	timeout := flag.Duration("timeout", durationEnv("HUBRELAY_HTTP_TIMEOUT", 15*time.Second), "per-request HTTP timeout")
	legacyUpsert := flag.Bool("legacy-upsert", boolEnv("HUBRELAY_LEGACY_UPSERT", false), "use lookup-then-write instead of createOrUpdate for plain identifies")
	once := flag.Bool("once", false, "drain the spool once and exit")
	flag.Parse()

	if strings.TrimSpace(*portalID) == "" {
		log.Fatalf("portal is required (--portal or HUBRELAY_PORTAL_ID)")
	}
	if strings.TrimSpace(*apiKey) == "" {
		log.Fatalf("api-key is required (--api-key or HUBRELAY_API_KEY)")
	}
	if strings.TrimSpace(*spoolDir) == "" {
		log.Fatalf("spool-dir is required (--spool-dir or HUBRELAY_SPOOL_DIR)")
	}
	if *timeout <= 0 {
		*timeout = 15 * time.Second
	}

	settings := hubspot.Settings{
		PortalID: strings.TrimSpace(*portalID),
		APIKey:   strings.TrimSpace(*apiKey),
	}
	client := hubspot.NewHTTPClient(hubspot.ClientOptions{
		HTTPClient: &http.Client{Timeout: *timeout},
		UserAgent:  "hubrelay/1.0",
	})
	syncer, err := hubspot.NewSyncer(hubspot.SyncerOptions{
		Settings:     settings,
		Contacts:     client,
		Events:       client,
		Logger:       log.Default(),
		LegacyUpsert: *legacyUpsert,
	})
	if err != nil {
		log.Fatalf("failed to initialize syncer: %v", err)
	}

	deliveryJournal, err := journal.BuildFromDSN(*journalDSN)
	if err != nil {
		log.Fatalf("failed to initialize delivery journal: %v", err)
	}
	defer func() {
		if err := deliveryJournal.Close(); err != nil {
			log.Printf("journal close failed: %v", err)
		}
	}()

	processor, err := envelope.NewProcessor(syncer, deliveryJournal, log.Default())
	if err != nil {
		log.Fatalf("failed to initialize processor: %v", err)
	}
	drainer, err := spoolsync.NewDrainer(processor, spoolsync.Options{
		SpoolDir:  *spoolDir,
		StateFile: *stateFile,
		Logger:    log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize spool drainer: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		if err := drainer.SyncOnce(rootCtx); err != nil {
			log.Fatalf("spool drain failed: %v", err)
		}
		log.Printf("spool drained")
		return
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- drainer.Watch(rootCtx, *rescanInterval)
	}()
	if strings.TrimSpace(*feedURL) != "" {
		listener, err := feed.NewListener(processor, feed.Options{
			URL:    *feedURL,
			Logger: log.Default(),
		})
		if err != nil {
			log.Fatalf("failed to initialize feed listener: %v", err)
		}
		go func() {
			errCh <- listener.Listen(rootCtx)
		}()
	}

	err = <-errCh
	stop()
	if err != nil && rootCtx.Err() == nil {
		log.Fatalf("hubrelay stopping: %v", err)
	}
	log.Printf("hubrelay stopping: %v", err)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		log.Printf("invalid %s=%q, using fallback %t", name, raw, fallback)
		return fallback
	}
}

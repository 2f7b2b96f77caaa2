package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/reelops/vaultfast/config"
	"github.com/reelops/vaultfast/engine"
	"github.com/reelops/vaultfast/notify"
	"github.com/reelops/vaultfast/provider"
	"github.com/reelops/vaultfast/restore"
	"github.com/reelops/vaultfast/store"
	"github.com/reelops/vaultfast/ui"
)

const defaultStateDir = "./.vaultfast"

func main() {
	var (
		configPath  string
		bucket      string
		region      string
		tier        string
		prefix      string
		stateDir    string
		uploadPath  string
		restoreKey  string
		restoreTier string
		downloadKey string
		destPath    string
		lifecycle   string
		tuiEnabled  bool
	)

	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&bucket, "bucket", "", "Target bucket (overrides config file)")
	flag.StringVar(&region, "region", "", "Bucket region (overrides config file)")
	flag.StringVar(&tier, "tier", "", "Feature tier: Free or Premium")
	flag.StringVar(&prefix, "prefix", "", "Object key prefix for uploads")
	flag.StringVar(&stateDir, "state-dir", defaultStateDir, "Directory for the job state database")
	flag.StringVar(&uploadPath, "upload", "", "File or directory to queue for upload")
	flag.StringVar(&restoreKey, "restore", "", "Object key to restore from cold storage")
	flag.StringVar(&restoreTier, "restore-tier", "", "Retrieval tier: Expedited, Standard or Bulk")
	flag.StringVar(&downloadKey, "download", "", "Object key to download (must be restored)")
	flag.StringVar(&destPath, "dest", "", "Destination path for -download")
	flag.StringVar(&lifecycle, "lifecycle", "", "Archive lifecycle rule: on, off or status")
	flag.BoolVar(&tuiEnabled, "tui", true, "Enable the interactive console (disable for headless runs)")
	flag.Parse()

	if uploadPath == "" && restoreKey == "" && downloadKey == "" && lifecycle == "" {
		fmt.Println("Usage: vaultfast [options] -upload <path> | -restore <key> | -download <key> -dest <path> | -lifecycle <on|off|status>")
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
		fmt.Println("\nExamples:")
		fmt.Println("  vaultfast -bucket my-vault -upload /media/projects/film")
		fmt.Println("  vaultfast -bucket my-vault -restore uploads/2025/03/14/a.mov -restore-tier Bulk")
		fmt.Println("  vaultfast -bucket my-vault -download uploads/2025/03/14/a.mov -dest ./a.mov")
		os.Exit(1)
	}

	cfg, err := loadConfig(configPath, bucket, region, tier, prefix)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		log.Fatalf("Failed to create state directory: %v", err)
	}
	statePath := cfg.StatePath
	if statePath == "" {
		statePath = filepath.Join(stateDir, "state.db")
	}

	st, err := store.NewBoltStore(statePath)
	if err != nil {
		log.Fatalf("Failed to open state database: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var creds provider.Credentials
	if os.Getenv("AWS_ACCESS_KEY_ID") != "" {
		creds = provider.EnvCredentials{}
	}
	objects, err := provider.NewS3Store(ctx, cfg.Upload.Bucket, cfg.Region, creds,
		provider.WithStorageClass("DEEP_ARCHIVE"))
	if err != nil {
		log.Fatalf("Failed to initialize object store: %v", err)
	}
	if err := objects.CheckBucket(ctx); err != nil {
		log.Fatalf("Bucket preflight failed: %v", err)
	}

	if lifecycle != "" {
		runLifecycle(ctx, objects, lifecycle, cfg.Upload.KeyPrefix)
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if tuiEnabled {
		// keep slog output out of the alternate screen
		logFile, err := os.OpenFile(filepath.Join(stateDir, "vaultfast.log"),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			defer logFile.Close()
			logger = slog.New(slog.NewTextHandler(logFile, nil))
		}
	}

	hub := notify.NewHub()
	tracker := restore.NewTracker(restore.Options{
		Config:  cfg.Restore,
		Store:   st,
		Objects: objects,
		Hub:     hub,
		Logger:  logger,
	})

	// jobs that were mid-flight when the last run died
	stale, err := store.Reconcile(st)
	if err != nil {
		log.Fatalf("Failed to reconcile job state: %v", err)
	}
	if len(stale) > 0 {
		for _, rec := range stale {
			logger.Info("resuming restore tracking", slog.String("key", rec.Key))
		}
		// re-check them right away, whatever mode this run is in; a restore
		// that finished while the process was down completes here
		restore.NewPoller(tracker).PollOnce(ctx)
	}

	switch {
	case downloadKey != "":
		runDownload(ctx, tracker, downloadKey, destPath)
	case restoreKey != "":
		runRestore(ctx, tracker, restoreKey, store.RestoreTier(restoreTier))
	default:
		runUpload(ctx, cancel, cfg, st, objects, hub, tracker, logger, uploadPath, tuiEnabled)
	}
}

// loadConfig builds the effective configuration: tier defaults, then the
// optional YAML file, then CLI overrides, then validation.
func loadConfig(path, bucket, region, tier, prefix string) (*config.AppConfig, error) {
	var cfg *config.AppConfig
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &config.AppConfig{
			Upload:  config.TierDefaults(config.TierFree),
			Restore: config.DefaultRestore(),
		}
	}

	if tier != "" {
		cfg.Upload = config.TierDefaults(config.Tier(tier))
	}
	if bucket != "" {
		cfg.Upload.Bucket = bucket
		cfg.Restore.Bucket = bucket
	}
	if region != "" {
		cfg.Region = region
	}
	if prefix != "" {
		cfg.Upload.KeyPrefix = prefix
	}
	if cfg.Restore.Bucket == "" {
		cfg.Restore.Bucket = cfg.Upload.Bucket
	}

	if err := cfg.Upload.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Restore.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runLifecycle(ctx context.Context, objects *provider.S3Store, action, prefix string) {
	switch action {
	case "on":
		rule := provider.ArchiveRule{Prefix: prefix, TransitionDays: 1, Enabled: true}
		if err := objects.EnableArchiveRule(ctx, rule); err != nil {
			log.Fatalf("Failed to enable archive rule: %v", err)
		}
		fmt.Println("Archive rule enabled: objects transition to deep archive after 1 day.")
	case "off":
		if err := objects.DisableArchiveRule(ctx); err != nil {
			log.Fatalf("Failed to disable archive rule: %v", err)
		}
		fmt.Println("Archive rule disabled.")
	case "status":
		rule, err := objects.ArchiveRuleStatus(ctx)
		if err != nil {
			log.Fatalf("Failed to read archive rule: %v", err)
		}
		if rule == nil {
			fmt.Println("No archive rule configured.")
			return
		}
		fmt.Printf("Archive rule: prefix=%q transition=%dd enabled=%v\n",
			rule.Prefix, rule.TransitionDays, rule.Enabled)
	default:
		log.Fatalf("Unknown lifecycle action %q (want on, off or status)", action)
	}
}

func runRestore(ctx context.Context, tracker *restore.Tracker, key string, tier store.RestoreTier) {
	rec, err := tracker.Request(ctx, key, tier)
	if err != nil {
		log.Fatalf("Restore request failed: %v", err)
	}
	if rec.State == store.StateCompleted {
		fmt.Printf("%s is already restored", key)
		if rec.ExpiresAt != nil {
			fmt.Printf(" (readable until %s)", rec.ExpiresAt.Format(time.RFC1123))
		}
		fmt.Println()
		return
	}

	fmt.Printf("Restore requested for %s (%s tier). Waiting...\n", key, rec.Tier)

	poller := restore.NewPoller(tracker)
	poller.Start(ctx)
	defer poller.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-sigChan:
			fmt.Println("\nInterrupted. The restore continues server-side; run -restore again to resume tracking.")
			return
		case <-ticker.C:
			rec, err := tracker.Status(key)
			if err != nil {
				log.Fatalf("Failed to read restore status: %v", err)
			}
			switch rec.State {
			case store.StateCompleted:
				fmt.Printf("Restore complete: %s\n", key)
				return
			case store.StateFailed:
				log.Fatalf("Restore failed: %s", rec.Error)
			}
		}
	}
}

func runDownload(ctx context.Context, tracker *restore.Tracker, key, dest string) {
	if dest == "" {
		dest = filepath.Base(key)
	}
	res, err := tracker.Download(ctx, key, dest)
	if err != nil {
		log.Fatalf("Download failed: %v", err)
	}
	fmt.Printf("Downloaded %s to %s (%d bytes in %s)\n",
		res.Key, res.DestPath, res.Bytes, res.Duration.Round(time.Millisecond))
}

func runUpload(
	ctx context.Context,
	cancel context.CancelFunc,
	cfg *config.AppConfig,
	st store.Store,
	objects *provider.S3Store,
	hub *notify.Hub,
	tracker *restore.Tracker,
	logger *slog.Logger,
	uploadPath string,
	tuiEnabled bool,
) {
	queue := engine.NewQueue(engine.QueueOptions{
		Config:  cfg.Upload,
		Store:   st,
		Objects: objects,
		Hub:     hub,
		Keys: engine.KeyBuilder{
			Prefix:      cfg.Upload.KeyPrefix,
			DateFolders: true,
		},
		Logger:     logger,
		Checkpoint: engine.DefaultCheckpointConfig,
	})

	recs, err := queue.SubmitDir(ctx, uploadPath)
	if err != nil && !errors.Is(err, engine.ErrDuplicateSource) {
		log.Fatalf("Failed to queue %s: %v", uploadPath, err)
	}
	stats, err := queue.Stats()
	if err != nil {
		log.Fatalf("Failed to read queue statistics: %v", err)
	}
	if len(recs) == 0 && stats.Pending == 0 {
		fmt.Println("Nothing to upload.")
		return
	}
	logger.Info("queued uploads",
		slog.Int("new", len(recs)),
		slog.Int("pending", stats.Pending))

	if err := queue.Start(ctx); err != nil {
		log.Fatalf("Failed to start upload queue: %v", err)
	}

	// keep tracked restores moving while uploads run, so the console's
	// restore rows reflect reality instead of the last run's snapshot
	poller := restore.NewPoller(tracker)
	poller.Start(ctx)
	defer poller.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if tuiEnabled {
		program := tea.NewProgram(ui.New(), tea.WithAltScreen())

		go func() {
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					program.Send(snapshot(queue, tracker))
				}
			}
		}()
		go func() {
			select {
			case <-sigChan:
				program.Quit()
			case <-ctx.Done():
			}
		}()

		if _, err := program.Run(); err != nil {
			log.Fatalf("Console error: %v", err)
		}
		cancel()
		queue.Stop()
		return
	}

	// headless: wait for the queue to drain or a signal
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-sigChan:
			fmt.Println("\nShutting down. Pending jobs resume on the next run.")
			cancel()
			queue.Stop()
			return
		case <-ticker.C:
			stats, err := queue.Stats()
			if err != nil {
				log.Fatalf("Failed to read queue statistics: %v", err)
			}
			if stats.Pending == 0 && stats.InProgress == 0 {
				queue.Stop()
				fmt.Printf("Done: %d completed, %d failed, %d paused.\n",
					stats.Completed, stats.Failed, stats.Paused)
				return
			}
		}
	}
}

func snapshot(queue *engine.Queue, tracker *restore.Tracker) ui.StateMsg {
	msg := ui.StateMsg{}
	if stats, err := queue.Stats(); err == nil {
		msg.Stats = stats
		msg.Done = stats.Pending == 0 && stats.InProgress == 0
	}
	if recs, err := queue.Jobs(); err == nil {
		msg.Uploads = recs
	}
	if recs, err := tracker.Jobs(); err == nil {
		msg.Restores = recs
	}
	return msg
}

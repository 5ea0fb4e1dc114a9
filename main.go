package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "time/tzdata"

	"chimbori.dev/cropshot/api"
	"chimbori.dev/cropshot/assets"
	"chimbori.dev/cropshot/browser"
	"chimbori.dev/cropshot/capture"
	"chimbori.dev/cropshot/conf"
	"chimbori.dev/cropshot/core"
	"chimbori.dev/cropshot/db"
	"chimbori.dev/cropshot/ledger"
	"chimbori.dev/cropshot/raster"
	"chimbori.dev/cropshot/slogdb"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
)

func main() {
	tintHandler := tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: "2006-01-02 15:04:05.000"})
	slog.SetDefault(slog.New(tintHandler))
	slog.Info(conf.AppName, "build-timestamp", conf.BuildTimestamp)

	healthCheckFlag := flag.Bool("healthcheck", false, "verify health of running service & exit")
	configYmlFlag := flag.String("config", "cropshot.yml", "path to cropshot.yml")
	urlFlag := flag.String("url", "", "capture this URL once, print JSON results & exit")
	var selectorsFlag stringList
	flag.Var(&selectorsFlag, "sel", "CSS selector to capture with --url (repeatable)")
	testFlag := flag.Bool("test", false, "with --url, only test the selectors; do not capture")
	flag.Parse()

	var err error
	if conf.Config, err = conf.ReadConfig(*configYmlFlag); err != nil {
		if *urlFlag == "" {
			slog.Error("Failed to parse config", tint.Err(err))
			os.Exit(1)
		}
		// A one-off capture can run without a config file, using defaults throughout.
		slog.Warn("Using default config", tint.Err(err))
	}

	if *healthCheckFlag {
		os.Exit(core.VerifyHealthCheck(conf.Config.Web.Host, conf.Config.Web.Port))
	}

	// If debug mode was turned on in the config file, print logs at DEBUG or above.
	if conf.Config.Debug {
		tintHandler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: "2006-01-02 15:04:05.000",
		})
		slog.SetDefault(slog.New(tintHandler))
	}

	store, err := newFileStore()
	if err != nil {
		slog.Error("Invalid asset config", tint.Err(err))
		os.Exit(1)
	}

	if *urlFlag != "" {
		os.Exit(runOnce(newEngine(store), *urlFlag, selectorsFlag, *testFlag))
	}

	var runs *ledger.Ledger
	if conf.Config.Database.Url != "" {
		// Run migrations using [database/sql] before connecting to the DB using [pgxpool.Pool].
		if err := core.RunMigrations(conf.Config.Database.Url, db.EmbedMigrations); err != nil {
			slog.Error("Error running critical migrations", tint.Err(err))
			os.Exit(1)
		}
		db.Pool, err = pgxpool.New(context.Background(), conf.Config.Database.Url)
		if err != nil {
			slog.Error("Unable to connect to database", tint.Err(err))
			os.Exit(1)
		}
		slog.Info("Connected to database successfully")

		// Now that the database is connected, wrap the console handler with the DB handler
		// so that all error-level logs are also written to the database.
		slog.SetDefault(slog.New(slogdb.NewDBHandler(tintHandler, db.Pool)))
		slog.Info("Database error logging enabled")
		runs = ledger.New(db.Pool)
	}

	var engine *capture.Engine
	if runs != nil {
		engine = newEngine(store, capture.WithRecorder(runs))
	} else {
		engine = newEngine(store)
	}

	// Set up cron task for routine maintenance.
	go func() {
		// Do a one-off cleanup before scheduling a recurring task.
		performMaintenance(store, runs)
		ticker := time.Tick(2 * time.Hour)
		for {
			<-ticker
			performMaintenance(store, runs)
		}
	}()

	// Set up a graceful cleanup for when the process is terminated.
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-signalCh
		fmt.Println()
		if db.Pool != nil {
			db.Pool.Close()
		}
		slog.Info("Shutdown successfully!")
		os.Exit(0)
	}()

	// Set up the Web server and start serving.
	mux := http.NewServeMux()
	var ping func(context.Context) error
	if db.Pool != nil {
		ping = db.Pool.Ping
	}
	core.SetupHealthCheck(mux, ping)
	mux.Handle("GET "+store.UrlPrefix+"/", store.Handler())

	serverOpts := []api.Option{
		api.WithMaxSessions(conf.Config.Browser.MaxSessions),
		api.WithRequestTimeout(conf.Config.Capture.RequestTimeout),
	}
	if runs != nil {
		serverOpts = append(serverOpts, api.WithRunLister(runs), api.WithLogReader(db.New(db.Pool)))
	}
	api.NewServer(engine, serverOpts...).Init(mux)

	addr := net.JoinHostPort("", strconv.Itoa(conf.Config.Web.Port))
	slog.Info("Listening", "url", "http://localhost"+addr) // Not "https://", since this app does not terminate SSL.
	log.Fatal(http.ListenAndServe(addr, core.SecurityHeaders(mux)))
}

func newFileStore() (*assets.FileStore, error) {
	format, err := raster.ParseFormat(conf.Config.Assets.Format)
	if err != nil {
		return nil, err
	}
	return assets.NewFileStore(conf.Config.Assets.Dir,
		assets.WithUrlPrefix(conf.Config.Assets.UrlPrefix),
		assets.WithMaxSize(conf.Config.Assets.MaxSizeBytes),
		assets.WithEncoder(&raster.Encoder{Format: format, MaxWidth: conf.Config.Assets.MaxWidth}),
	), nil
}

func newEngine(store *assets.FileStore, opts ...capture.Option) *capture.Engine {
	launcher := browser.NewLauncher(browser.Options{
		ExecPath:          conf.Config.Browser.ExecPath,
		RemoteUrl:         conf.Config.Browser.RemoteUrl,
		NoSandbox:         *conf.Config.Browser.NoSandbox,
		NavigationTimeout: conf.Config.Browser.NavigationTimeout,
		IdleQuiet:         conf.Config.Browser.NetworkIdle.Quiet,
		IdleMaxInflight:   conf.Config.Browser.NetworkIdle.MaxInflight,
		Debug:             conf.Config.Debug,
	})
	return capture.NewEngine(capture.ChromeLauncher(launcher), store, capture.Config{
		SelectorTimeout: conf.Config.Capture.SelectorTimeout,
		DefaultWait:     conf.Config.Capture.DefaultWait,
	}, opts...)
}

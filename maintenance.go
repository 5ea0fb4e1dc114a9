package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chimbori.dev/cropshot/assets"
	"chimbori.dev/cropshot/conf"
	"chimbori.dev/cropshot/db"
	"chimbori.dev/cropshot/ledger"
	"github.com/lmittmann/tint"
)

func performMaintenance(store *assets.FileStore, runs *ledger.Ledger) {
	if err := store.Prune(); err != nil {
		slog.Error("failed to prune screenshots", tint.Err(err))
	}

	if db.Pool == nil {
		slog.Info("Maintenance completed successfully")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deletedLogs, err := db.New(db.Pool).DeleteOldLogs(ctx, ledger.Interval(conf.Config.Logs.Retention))
	if err != nil {
		slog.Error("failed to delete old logs", tint.Err(err))
	} else {
		slog.Info(fmt.Sprintf("%d logs deleted", deletedLogs))
	}

	if runs != nil {
		deletedRuns, err := runs.Prune(ctx, conf.Config.Logs.Retention)
		if err != nil {
			slog.Error("failed to delete old capture runs", tint.Err(err))
		} else {
			slog.Info(fmt.Sprintf("%d capture runs deleted", deletedRuns))
		}
	}
	slog.Info("Maintenance completed successfully")
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/subsync/pkg/config"
	"github.com/angelmondragon/subsync/pkg/db"
	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/migrate"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	opts := parseFlags()
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	// create and validate work on files only and must not require a full environment.
	if err := runOffline(opts); !errors.Is(err, errNeedsDB) {
		exit(logg, opts, err)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		exit(logg, opts, fmt.Errorf("load config: %w", err))
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":    cfg.App.Env,
		"cmd":    opts.cmd,
		"source": migrate.Resolve(opts.dir).String(),
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		exit(logg, opts, fmt.Errorf("connect database: %w", err))
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		exit(logg, opts, fmt.Errorf("extract sql.DB: %w", err))
	}

	logg.Info(ctx, "migrate.start")
	if err := runOnline(ctx, sqlDB, opts); err != nil {
		logg.Error(ctx, "migrate.failed", err)
		exit(logg, opts, err)
	}
	logg.Info(ctx, "migrate.complete")
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "up|up-by-one|down|redo|reset|status|version|goto|create|validate")
	flag.StringVar(&opts.dir, "dir", "", "migrations directory on disk (default: embedded set; create uses "+migrate.DefaultDir+")")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=goto")
	flag.Parse()
	return opts
}

var errNeedsDB = errors.New("command needs a database")

func runOffline(opts options) error {
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return fmt.Errorf("missing -name for create")
		}
		dir := opts.dir
		if dir == "" {
			dir = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(dir, opts.name)
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	case "validate":
		if err := migrate.Validate(migrate.Resolve(opts.dir)); err != nil {
			return err
		}
		fmt.Println("migration validation passed")
		return nil
	}
	return errNeedsDB
}

func runOnline(ctx context.Context, sqlDB *sql.DB, opts options) error {
	src := migrate.Resolve(opts.dir)
	if opts.cmd == "goto" {
		if opts.version == "" {
			return fmt.Errorf("missing -version for goto")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, src, opts.version)
	}
	return migrate.Run(ctx, sqlDB, src, opts.cmd)
}

func exit(logg *logger.Logger, opts options, err error) {
	if err == nil {
		os.Exit(0)
	}
	logg.Error(context.Background(), fmt.Sprintf("migrate %s failed", opts.cmd), err)
	fmt.Fprintf(os.Stderr, "migrate %s: %v\n", opts.cmd, err)
	os.Exit(1)
}

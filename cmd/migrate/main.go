package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"matchbase.io/internal/company"
	"matchbase.io/internal/config"
	"matchbase.io/internal/migrate"
	"matchbase.io/internal/obs"
	"matchbase.io/internal/store/pg"
	"matchbase.io/ops/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	var (
		dsn            = flag.String("dsn", cfg.Database.DSN, "PostgreSQL DSN (default from MATCHBASE_DATABASE_DSN)")
		migrationsPath = flag.String("migrations", "", "Directory of SQL migrations (default: embedded)")
		seedsPath      = flag.String("seeds", "", "Directory of SQL seeds (default: embedded)")
		timeout        = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] up|down|status|seed|admin <subject> <email> <name>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	logger, err := obs.NewLogger(cfg.Log.Level, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *dsn == "" {
		logger.Fatal("missing DSN: provide via -dsn or MATCHBASE_DATABASE_DSN")
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn, pg.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	mgr := migrate.NewManager(store.DB(), source(*migrationsPath, migrations.SQL()), source(*seedsPath, migrations.Seeds()),
		migrate.WithLogger(logger.Named("migrate")))

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		printAll(applied)
	case "seed":
		var applied []string
		applied, err = mgr.Seed(ctx)
		printAll(applied)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			fmt.Println(name)
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		printAll(history)
	case "admin":
		err = registerAdmin(ctx, store, logger, flag.Args()[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("migrate "+cmd, zap.Error(err))
	}
}

// source prefers an on-disk directory when one is given.
func source(dir string, embedded fs.FS) fs.FS {
	if dir == "" {
		return embedded
	}
	return os.DirFS(dir)
}

func registerAdmin(ctx context.Context, store *pg.Store, logger *zap.Logger, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("admin expects <subject> <email> <name>, got %d args", len(args))
	}
	svc, err := company.NewService(store, company.WithLogger(logger.Named("company")))
	if err != nil {
		return err
	}
	u, err := svc.RegisterAdmin(ctx, args[0], args[1], args[2])
	if err != nil {
		return err
	}
	fmt.Printf("admin %s (%s)\n", u.ID, u.Email)
	return nil
}

func printAll(lines []string) {
	for _, l := range lines {
		fmt.Println(l)
	}
}

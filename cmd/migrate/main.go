// Command migrate applies schema migrations against Postgres.
//
// Usage:
//
//	migrate -dsn postgres://... up
//	migrate -dsn postgres://... down
//	migrate -dsn postgres://... status
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"wyecare.org/internal/migrate"
	"wyecare.org/internal/obs"
	"wyecare.org/internal/store/pg"
	"wyecare.org/migrations"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("WYECARE_PG_DSN"), "postgres connection string")
	dir := flag.String("dir", "", "load migrations from this directory instead of the embedded set")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()

	obs.Init()
	defer obs.Sync()
	log := obs.Logger()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "status"
	}
	if *dsn == "" {
		log.Fatal("no dsn: pass -dsn or set WYECARE_PG_DSN")
	}

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatal("postgres", zap.Error(err))
	}
	defer store.Close()

	var files fs.FS = migrations.Files
	if *dir != "" {
		files = os.DirFS(*dir)
	}
	mgr := migrate.NewManager(store.DB(), files)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch cmd {
	case "up":
		if err := mgr.Up(ctx); err != nil {
			log.Fatal("up", zap.Error(err))
		}
		log.Info("migrations applied")
	case "down":
		if err := mgr.Down(ctx); err != nil {
			log.Fatal("down", zap.Error(err))
		}
		log.Info("rolled back one migration")
	case "status":
		applied, err := mgr.Status(ctx)
		if err != nil {
			log.Fatal("status", zap.Error(err))
		}
		if len(applied) == 0 {
			fmt.Println("no migrations applied")
			return
		}
		for _, name := range applied {
			fmt.Println(name)
		}
	default:
		log.Fatal("unknown command", zap.String("command", cmd))
	}
}

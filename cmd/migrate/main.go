// Command migrate applies or rolls back the embedded schema migrations.
//
//	migrate [-driver postgres|sqlite] [-dsn URL|PATH] up|down
//
// The dsn defaults to FMS_DATABASE_URL for postgres and FMS_SQLITE_PATH for sqlite.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"fms/cmd/internal/db"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	driver := fs.String("driver", db.DriverPostgres, "postgres or sqlite")
	dsn := fs.String("dsn", "", "database URL (postgres) or file path (sqlite)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: migrate [-driver postgres|sqlite] [-dsn ...] up|down")
	}

	if *dsn == "" {
		switch *driver {
		case db.DriverPostgres:
			*dsn = os.Getenv("FMS_DATABASE_URL")
		case db.DriverSQLite:
			*dsn = os.Getenv("FMS_SQLITE_PATH")
		}
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return db.Migrate(*driver, *dsn, fs.Arg(0), log)
}

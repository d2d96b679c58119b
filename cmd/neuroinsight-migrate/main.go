// neuroinsight-migrate applies the job-store schema migrations.
//
// Usage:
//
//	neuroinsight-migrate -database-url postgres://... [-command up|down|status]
package main

import (
	"database/sql"
	"embed"
	"flag"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string (defaults to DATABASE_URL)")
	command     = flag.String("command", "up", "Migration command: up, down or status")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("NeuroInsight Database Migration Tool")

	if *databaseURL == "" {
		log.Fatal("no database URL: set DATABASE_URL or pass -database-url")
	}

	db, err := sql.Open("pgx", *databaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Cannot reach database: %v", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("Failed to set dialect: %v", err)
	}

	switch *command {
	case "up":
		err = goose.Up(db, "migrations")
	case "down":
		err = goose.Down(db, "migrations")
	case "status":
		err = goose.Status(db, "migrations")
	default:
		log.Fatalf("Unknown command %q (want up, down or status)", *command)
	}
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Done")
}

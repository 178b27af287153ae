//cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/gymcall-scheduler/internal/config"
	"github.com/unclebandit/gymcall-scheduler/internal/db"
)

func main() {
	dir := flag.String("dir", "seed", "directory holding the seed files")
	schemaOnly := flag.Bool("schema-only", false, "apply schema.sql without demo data")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	seedFiles := []string{"schema.sql", "leads.sql", "campaigns.sql"}
	if *schemaOnly {
		seedFiles = seedFiles[:1]
	}

	// All files go in one transaction so a failed seed leaves nothing behind.
	err = db.WithTx(ctx, conn, func(tx *sqlx.Tx) error {
		for _, file := range seedFiles {
			path := filepath.Join(*dir, file)
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			if _, err := tx.ExecContext(ctx, string(content)); err != nil {
				return fmt.Errorf("failed to execute %s: %w", path, err)
			}
			fmt.Printf("Seeded: %s\n", path)
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("Database seeding completed successfully!")
}

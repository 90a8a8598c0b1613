package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"tokenledger/cmd"
	"tokenledger/config"
	"tokenledger/database"
	"tokenledger/domain/entities"

	log "github.com/sirupsen/logrus"
)

func main() {
	if len(os.Args) > 1 {
		var err error
		switch os.Args[1] {
		case "migrate":
			err = handleMigrationCommand()
		case "audit":
			err = handleAuditCommand()
		case "refill-lifetime":
			err = handleRefillCommand()
		case "serve":
			err = serve()
		default:
			err = fmt.Errorf("unknown command %q (expected serve, migrate, audit or refill-lifetime)", os.Args[1])
		}
		if err != nil {
			log.Fatalf("%s error: %v", os.Args[1], err)
		}
		return
	}

	if err := serve(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func serve() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	return cmd.Run(ctx)
}

func handleMigrationCommand() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: tokenledger migrate [up|down|status] [steps]")
	}

	databaseURL := config.Get().GetDatabaseURL()

	switch os.Args[2] {
	case "up":
		return database.MigrateUp(databaseURL)
	case "down":
		steps := 1
		if len(os.Args) > 3 {
			n, err := strconv.Atoi(os.Args[3])
			if err != nil {
				return fmt.Errorf("invalid steps %q: %w", os.Args[3], err)
			}
			steps = n
		}
		return database.MigrateDown(databaseURL, steps)
	case "status":
		status, err := database.GetMigrationStatus(databaseURL)
		if err != nil {
			return err
		}
		if !status.Applied {
			fmt.Println("No migrations applied")
			return nil
		}
		fmt.Printf("Version: %d (dirty: %t)\n", status.Version, status.Dirty)
		return nil
	default:
		return fmt.Errorf("unknown migration command: %s", os.Args[2])
	}
}

func handleAuditCommand() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: tokenledger audit <account-id>")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return cmd.Audit(ctx, os.Args[2])
}

func handleRefillCommand() error {
	period := entities.RefillPeriod(time.Now())
	if len(os.Args) > 2 {
		if _, err := time.Parse("2006-01", os.Args[2]); err != nil {
			return fmt.Errorf("period must look like 2026-01: %w", err)
		}
		period = os.Args[2]
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	return cmd.RefillLifetime(ctx, period)
}

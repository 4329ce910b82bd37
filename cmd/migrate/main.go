// cmd/migrate/main.go
package main

import (
	"fmt"
	"os"
	"strconv"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"adc-service/internal/config"
	"adc-service/internal/database"
	"adc-service/internal/utils"
)

func main() {
	configPath := flag.StringP("config", "c", "", "path to the configuration file")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [--config file] up|down|version|force <version>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.Logging.Output = "stderr"

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.CloseLogger(logger)

	if err := run(cfg, logger, flag.Args()); err != nil {
		logger.Error("Migration command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger, args []string) error {
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger, &cfg.Database)
	switch args[0] {
	case "up":
		return migrator.Up()
	case "down":
		return migrator.Down()
	case "version":
		version, dirty, err := migrator.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d dirty=%t\n", version, dirty)
		return nil
	case "force":
		if len(args) != 2 {
			return fmt.Errorf("force requires a version")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		return migrator.Force(version)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// Command migrate runs schema operations for the backend.
package main

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"readaddicts/internal/config"
	"readaddicts/internal/database"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

type env struct {
	cfg *config.Config
	db  *gorm.DB
}

func newRootCmd() *cobra.Command {
	e := &env{}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply and inspect the readaddicts database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := database.Connect(cfg)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			e.cfg, e.db = cfg, db
			return nil
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending SQL migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := database.RunMigrations(cmd.Context(), e.db); err != nil {
					return fmt.Errorf("sql migrations failed: %w", err)
				}
				log.Println("sql migrations applied")
				return nil
			},
		},
		&cobra.Command{
			Use:   "auto",
			Short: "Run gorm AutoMigrate for every persistent model",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				e.cfg.DBSchemaMode = database.SchemaModeAuto
				if err := database.ApplySchema(cmd.Context(), e.db, e.cfg); err != nil {
					return fmt.Errorf("auto schema apply failed: %w", err)
				}
				log.Println("automigrations applied")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				status, err := database.GetSchemaStatus(cmd.Context(), e.db, e.cfg)
				if err != nil {
					return fmt.Errorf("schema status failed: %w", err)
				}
				log.Printf("mode=%s env=%s run_sql=%t run_auto=%t",
					status.Mode, status.Environment, status.WillRunSQL, status.WillRunAutoMigrate)
				if !status.WillRunSQL {
					log.Printf("sql migrations are not used for driver %q; the schema comes from the models", e.cfg.DBDriver)
				}
				for _, m := range status.Migrations {
					switch {
					case m.Drifted:
						log.Printf("DRIFTED %s (applied %s, script changed since)", m, m.AppliedAt.Format(time.RFC3339))
					case m.Applied:
						log.Printf("applied %s at %s", m, m.AppliedAt.Format(time.RFC3339))
					default:
						log.Printf("pending %s", m)
					}
				}
				log.Printf("%d pending", len(status.Pending()))
				return nil
			},
		},
		&cobra.Command{
			Use:   "down <version>",
			Short: "Roll back the newest applied migration",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				if err := database.RollbackMigration(cmd.Context(), e.db, version); err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				log.Printf("rolled back migration %d", version)
				return nil
			},
		},
	)
	return root
}

package main

import (
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "chirpy-migrate"}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		m := newMigrator(cmd)
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			fmt.Printf("Failed to apply migrations: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Migrations applied successfully")
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Run: func(cmd *cobra.Command, args []string) {
		m := newMigrator(cmd)
		if err := m.Steps(-1); err != nil {
			fmt.Printf("Failed to roll back migration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Migration rolled back")
	},
}

func newMigrator(cmd *cobra.Command) *migrate.Migrate {
	_ = godotenv.Load()

	connStr, _ := cmd.Flags().GetString("db")
	if connStr == "" {
		connStr = os.Getenv("POSTGRES_URL")
	}
	if connStr == "" {
		fmt.Println("Error: --db flag or POSTGRES_URL required")
		os.Exit(1)
	}

	source, _ := cmd.Flags().GetString("source")

	m, err := migrate.New(source, connStr)
	if err != nil {
		fmt.Printf("Failed to initialize migrations: %v\n", err)
		os.Exit(1)
	}
	return m
}

func main() {
	rootCmd.AddCommand(upCmd, downCmd)
	rootCmd.PersistentFlags().String("db", "", "Database connection string (defaults to POSTGRES_URL)")
	rootCmd.PersistentFlags().String("source", "file://migrations", "Migration source directory")
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

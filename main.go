package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"session-core/pkg/config"
	"session-core/pkg/i18n"
)

var buildVersion = "dev"

var (
	envFile      string
	portOverride string
)

var rootCmd = &cobra.Command{
	Use:           "session-core",
	Short:         "Multi-session trading core for OANDA v20 accounts",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before the environment (default ./.env)")
	rootCmd.PersistentFlags().StringVar(&portOverride, "port", "", "HTTP port, overrides PORT")
	rootCmd.AddCommand(serveCmd, backtestCmd, strategiesCmd, recoverCmd, tokenCmd)
}

// loadConfig reads the environment, applies flag overrides and selects the
// message catalogue.
func loadConfig() (*config.Config, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}
	if portOverride != "" {
		cfg.Port = portOverride
	}
	i18n.SetLanguage(i18n.Language(cfg.Language))
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Printf("❌ %v", err)
		os.Exit(1)
	}
}

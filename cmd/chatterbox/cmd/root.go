package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/msto63/chatterbox-ui/internal/audio"
	"github.com/msto63/chatterbox-ui/internal/service"
	"github.com/msto63/chatterbox-ui/internal/voice"
	"github.com/msto63/chatterbox-ui/pkg/core/config"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	envFile   string
	serverURL string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "chatterbox",
	Short: "Chatterbox TTS - Weboberfläche und Kommandozeile",
	Long: `chatterbox ist eine lokale Oberfläche für einen Chatterbox TTS Server.

Die Weboberfläche (chatterbox serve) bietet Sprachsynthese, Stimmverwaltung
und Mikrofonaufnahmen für Voice Cloning. Die übrigen Befehle sprechen den
Inferenzserver direkt an.

Umgebungsvariablen:
  CHATTERBOX_SERVER_URL  Inferenzserver (default: http://localhost:20480)
  CHATTERBOX_API_KEY     API-Key für den Inferenzserver
  CHATTERBOX_UI_ADDR     Adresse der Weboberfläche (host:port)
  CHATTERBOX_LOG_LEVEL   Log-Level (debug, info, warn, error)
  CHATTERBOX_CONFIG      Pfad zur Config-Datei`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config-Datei (TOML oder YAML)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Datei mit Umgebungsvariablen")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server-url", "", "URL des Inferenzservers")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose Output")
}

// loadConfig resolves configuration from flags, env files, config file and environment
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		os.Setenv(config.EnvConfigPath, cfgFile)
	}
	cfg, err := config.LoadFromEnv(envFile)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.Chatterbox.ServerURL = serverURL
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// cliLogger logs to stderr so command output stays clean
func cliLogger(cfg *config.Config) *logging.Logger {
	level := "warn"
	if verbose {
		level = cfg.Logging.Level
	}
	return logging.NewLogger(logging.LoggerConfig{
		ServiceName: "chatterbox",
		Level:       level,
		Format:      "text",
		Output:      os.Stderr,
	})
}

func newVoiceClient(cfg *config.Config, logger *logging.Logger) (*voice.Client, error) {
	return voice.NewClient(voice.Config{
		ServerURL: cfg.Chatterbox.ServerURL,
		APIKey:    cfg.Chatterbox.APIKey,
		Timeout:   cfg.Chatterbox.Timeout.Duration,
	}, logger.Named("voice"))
}

func printError(w io.Writer, msg string, err error) {
	fmt.Fprintf(w, "Fehler: %s: %v\n", msg, err)
}

// newCLIService builds the service used by the one-shot commands. The voice
// cache is not needed for a single call.
func newCLIService(cfg *config.Config, logger *logging.Logger) (*service.Service, error) {
	policy, err := audio.ParseChannelPolicy(cfg.Audio.ChannelPolicy)
	if err != nil {
		return nil, err
	}
	client, err := newVoiceClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return service.NewService(client, service.Config{
		MaxConcurrent: 1,
		AudioFormat:   cfg.Chatterbox.AudioFormat,
		TempDir:       cfg.Audio.TempDir,
		ChannelPolicy: policy,
	}, logger.Named("service")), nil
}

// statusError turns a failed service status into a command error
func statusError(st service.Status) error {
	if st.Success {
		return nil
	}
	if st.Code != "" {
		return fmt.Errorf("%s (%s)", st.Message, st.Code)
	}
	return errors.New(st.Message)
}

package cmd

import (
	"time"

	"github.com/msto63/chatterbox-ui/internal/tui/logviewer"
	"github.com/msto63/chatterbox-ui/pkg/core/version"
	"github.com/spf13/cobra"
)

var (
	logsMaxCount  int
	logsInterval  time.Duration
	logsComponent string
	logsSearch    string
)

var logsCmd = &cobra.Command{
	Use:     "logs",
	Aliases: []string{"log"},
	Short:   "Zeigt die Log-Datei der Weboberfläche",
	Long: `Startet einen interaktiven Viewer für die Log-Datei von "chatterbox serve"
([logging] file, default: chatterbox-ui.log).

Tastenkürzel:
  1-4         Log-Level togglen (1=DEBUG, 2=INFO, 3=WARN, 4=ERROR)
  0           Alle Level anzeigen
  f           Felder ein-/ausblenden
  p / Space   Pause/Resume
  r           Neu laden
  a           Auto-Scroll togglen
  g / G       Zum Anfang / Ende springen
  PgUp/PgDn   Scrollen
  q / Ctrl+C  Beenden`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().IntVar(&logsMaxCount, "max-logs", 1000, "Maximale Anzahl der angezeigten Einträge")
	logsCmd.Flags().DurationVar(&logsInterval, "interval", 2*time.Second, "Aktualisierungsintervall")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "Nur Einträge dieser Komponente (z.B. service, sessions)")
	logsCmd.Flags().StringVar(&logsSearch, "grep", "", "Nur Einträge, deren Nachricht diesen Text enthält")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return logviewer.Run(logviewer.Config{
		Path:        cfg.Logging.File,
		MaxLogCount: logsMaxCount,
		Interval:    logsInterval,
		Component:   logsComponent,
		Search:      logsSearch,
		Version:     version.App,
	})
}

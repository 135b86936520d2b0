package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/msto63/chatterbox-ui/internal/history"
	"github.com/msto63/chatterbox-ui/internal/tui"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyJSON  bool
	exportOut    string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Zeigt den Syntheseverlauf",
	RunE:  runHistoryList,
}

var historyExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Exportiert das Audio eines Verlaufseintrags",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryExport,
}

var historyDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Löscht einen Verlaufseintrag",
	Args:    cobra.ExactArgs(1),
	RunE:    runHistoryDelete,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Anzahl der Einträge")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Ausgabe als JSON")
	historyExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Ausgabedatei (default: <id>.wav)")

	historyCmd.AddCommand(historyExportCmd, historyDeleteCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistory() (*history.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Storage.HistoryEnabled {
		return nil, fmt.Errorf("history is disabled ([storage] history_enabled)")
	}
	return history.NewSQLiteStore(history.Config{Path: cfg.Storage.HistoryPath})
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		printError(os.Stderr, "Verlauf nicht verfügbar", err)
		return err
	}
	defer store.Close()

	entries, err := store.List(cmd.Context(), history.AllSessions, historyLimit)
	if err != nil {
		return err
	}

	if historyJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), tui.SubtitleStyle.Render("Noch keine Synthesen"))
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), tui.RenderTitle(fmt.Sprintf("Verlauf (%d)", len(entries))))
	for _, e := range entries {
		voice := e.VoiceMode
		if e.VoiceID != "" {
			voice += ":" + e.VoiceID
		} else if e.VoiceName != "" {
			voice += ":" + e.VoiceName
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %-20s %6.1fs  %s\n",
			tui.HelpStyle.Render(shortID(e.ID)),
			e.CreatedAt.Local().Format("02.01. 15:04"),
			voice,
			float64(e.DurationMS)/1000,
			truncate(e.Text, 50))
	}
	return nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		printError(os.Stderr, "Verlauf nicht verfügbar", err)
		return err
	}
	defer store.Close()

	entry, err := store.Get(cmd.Context(), history.AllSessions, args[0])
	if err != nil {
		printError(os.Stderr, "Eintrag nicht gefunden", err)
		return err
	}
	if len(entry.Audio) == 0 {
		return fmt.Errorf("entry %s has no stored audio", entry.ID)
	}

	out := exportOut
	if out == "" {
		out = entry.ID + "." + entry.Format
	}
	if err := writeOutput(out, entry.Audio); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d Bytes)\n", tui.StatusOKStyle.Render("✓"), out, len(entry.Audio))
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		printError(os.Stderr, "Verlauf nicht verfügbar", err)
		return err
	}
	defer store.Close()

	if err := store.Delete(cmd.Context(), history.AllSessions, args[0]); err != nil {
		printError(os.Stderr, "Löschen fehlgeschlagen", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Eintrag gelöscht\n", tui.StatusOKStyle.Render("✓"))
	return nil
}

func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	if len(r) > width-1 {
		r = r[:width-1]
	}
	return string(r) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

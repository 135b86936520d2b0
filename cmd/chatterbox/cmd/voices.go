package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/msto63/chatterbox-ui/internal/tui"
	"github.com/spf13/cobra"
)

var (
	voicesJSON       bool
	uploadSampleRate int
	uploadVoiceID    string
)

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "Verwaltet Stimmen auf dem Inferenzserver",
}

var voicesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Listet alle hochgeladenen Stimmen",
	RunE:    runVoicesList,
}

var voicesUploadCmd = &cobra.Command{
	Use:   "upload <datei.wav>",
	Short: "Lädt eine Referenzaufnahme als Stimme hoch",
	Long: `Lädt eine Referenzaufnahme für Voice Cloning hoch.

Ohne --id wird der Dateiname (ohne Endung) als Voice ID verwendet.

Beispiele:
  chatterbox voices upload anna.wav
  chatterbox voices upload aufnahme.wav --id anna --sample-rate 24000`,
	Args: cobra.ExactArgs(1),
	RunE: runVoicesUpload,
}

var voicesDeleteCmd = &cobra.Command{
	Use:     "delete <voice-id>",
	Aliases: []string{"rm"},
	Short:   "Löscht eine Stimme",
	Args:    cobra.ExactArgs(1),
	RunE:    runVoicesDelete,
}

func init() {
	voicesListCmd.Flags().BoolVar(&voicesJSON, "json", false, "Ausgabe als JSON")
	voicesUploadCmd.Flags().StringVar(&uploadVoiceID, "id", "", "Voice ID (default: Dateiname)")
	voicesUploadCmd.Flags().IntVar(&uploadSampleRate, "sample-rate", 0, "Sample Rate der Aufnahme (0 = aus WAV-Header)")

	voicesCmd.AddCommand(voicesListCmd, voicesUploadCmd, voicesDeleteCmd)
	rootCmd.AddCommand(voicesCmd)
}

func runVoicesList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := newCLIService(cfg, cliLogger(cfg))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	result := svc.ListVoices(ctx)
	if err := statusError(result.Status); err != nil {
		printError(os.Stderr, "Stimmen konnten nicht geladen werden", err)
		return err
	}

	if voicesJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintln(cmd.OutOrStdout(), tui.RenderTitle(fmt.Sprintf("Stimmen (%d)", result.Total)))
	fmt.Fprintln(cmd.OutOrStdout(), tui.RenderVoiceTable(result.Voices))
	return nil
}

func runVoicesUpload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := newCLIService(cfg, cliLogger(cfg))
	if err != nil {
		return err
	}

	path := args[0]
	id := uploadVoiceID
	if id == "" {
		id = voiceIDFromPath(path)
	}

	rate := uploadSampleRate
	if rate == 0 {
		rate = wavSampleRate(path)
	}

	result := svc.UploadVoice(cmd.Context(), id, path, rate)
	if err := statusError(result.Status); err != nil {
		printError(os.Stderr, "Upload fehlgeschlagen", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", tui.StatusOKStyle.Render("✓"), result.Message)
	return nil
}

func runVoicesDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := newCLIService(cfg, cliLogger(cfg))
	if err != nil {
		return err
	}

	result := svc.DeleteVoice(cmd.Context(), args[0])
	if err := statusError(result.Status); err != nil {
		printError(os.Stderr, "Löschen fehlgeschlagen", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", tui.StatusOKStyle.Render("✓"), result.Message)
	return nil
}

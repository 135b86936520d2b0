package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/msto63/chatterbox-ui/internal/audio"
	"github.com/msto63/chatterbox-ui/internal/service"
	"github.com/msto63/chatterbox-ui/internal/tui"
	"github.com/msto63/chatterbox-ui/internal/voice"
	"github.com/spf13/cobra"
)

var (
	synthOut       string
	synthMode      string
	synthVoiceName string
	synthVoiceID   string
	synthPlay      bool
	playPCMRate    int
)

var synthCmd = &cobra.Command{
	Use:   "synth <text>",
	Short: "Erzeugt Sprache aus Text",
	Long: `Erzeugt Sprache aus Text und speichert sie als WAV-Datei.

Modi:
  default     Standardstimme des Servers
  predefined  Vordefinierte Stimme (--voice-name)
  clone       Hochgeladene Stimme (--voice-id)

Beispiele:
  chatterbox synth "Hallo Welt" -o hallo.wav
  chatterbox synth "Guten Morgen" --mode clone --voice-id anna --play`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSynth,
}

var playCmd = &cobra.Command{
	Use:   "play <datei>",
	Short: "Spielt eine WAV- oder PCM-Datei lokal ab",
	Long: `Spielt eine Audiodatei über das lokale Ausgabegerät ab.

Ohne --pcm-rate wird die Datei als WAV gelesen, sonst als headerloses
16-bit Mono-PCM mit der angegebenen Sample Rate.

Lokale Wiedergabe erfordert einen Build mit -tags voice.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	synthCmd.Flags().StringVarP(&synthOut, "out", "o", "", "Ausgabedatei (default: chatterbox-<zeit>.wav)")
	synthCmd.Flags().StringVar(&synthMode, "mode", voice.ModeDefault, "Voice Mode (default, predefined, clone)")
	synthCmd.Flags().StringVar(&synthVoiceName, "voice-name", "", "Name einer vordefinierten Stimme")
	synthCmd.Flags().StringVar(&synthVoiceID, "voice-id", "", "ID einer hochgeladenen Stimme")
	synthCmd.Flags().BoolVar(&synthPlay, "play", false, "Ergebnis lokal abspielen")

	playCmd.Flags().IntVar(&playPCMRate, "pcm-rate", 0, "Sample Rate für headerloses PCM")

	rootCmd.AddCommand(synthCmd, playCmd)
}

// interruptContext is cancelled on SIGINT/SIGTERM
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runSynth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := cliLogger(cfg)
	svc, err := newCLIService(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := interruptContext(cmd.Context())
	defer cancel()

	fmt.Fprintln(os.Stderr, tui.SubtitleStyle.Render("Erzeuge Sprache..."))
	result := svc.Synthesize(ctx, service.SynthesisRequest{
		Text:      strings.Join(args, " "),
		VoiceMode: synthMode,
		VoiceName: synthVoiceName,
		VoiceID:   synthVoiceID,
	})
	if err := statusError(result.Status); err != nil {
		printError(os.Stderr, "Synthese fehlgeschlagen", err)
		return err
	}

	out := synthOut
	if out == "" {
		out = fmt.Sprintf("chatterbox-%s.wav", time.Now().Format("20060102-150405"))
	}
	if err := writeOutput(out, result.Audio); err != nil {
		printError(os.Stderr, "Datei konnte nicht geschrieben werden", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d Bytes, %d Hz)\n",
		tui.StatusOKStyle.Render("✓"), out, len(result.Audio), result.SampleRate)

	if synthPlay {
		player := audio.NewPlaybackAdapter(audio.NewLocalSink(), nil, logger.Named("playback"))
		if !player.PlayWAV(ctx, result.Audio) {
			return playbackError(player)
		}
	}
	return nil
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := cliLogger(cfg)

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := interruptContext(cmd.Context())
	defer cancel()

	player := audio.NewPlaybackAdapter(audio.NewLocalSink(), nil, logger.Named("playback"))
	var ok bool
	if playPCMRate > 0 {
		ok = player.PlayPCM(ctx, data, playPCMRate)
	} else {
		ok = player.PlayWAV(ctx, data)
	}
	if !ok {
		return playbackError(player)
	}

	src := player.Current()
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s abgespielt (%s, %d Hz)\n",
		tui.StatusOKStyle.Render("✓"), args[0], src.Duration.Round(time.Millisecond), src.SampleRate)
	return nil
}

// playbackError drains the first reported playback error
func playbackError(player *audio.PlaybackAdapter) error {
	select {
	case err := <-player.Errors():
		printError(os.Stderr, "Wiedergabe fehlgeschlagen", err)
		return err
	default:
		return fmt.Errorf("playback failed")
	}
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/msto63/chatterbox-ui/internal/audio"
	"github.com/msto63/chatterbox-ui/internal/tui"
	"github.com/spf13/cobra"
)

var (
	recordOut         string
	recordDevice      string
	recordSampleRate  int
	recordUploadID    string
	recordNoTrim      bool
	recordChannels    int
	recordListDevices bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Nimmt eine Referenzstimme über das Mikrofon auf",
	Long: `Nimmt über das lokale Mikrofon auf, bis Enter gedrückt wird.

Die Aufnahme wird als 16-bit WAV gespeichert (Mono, mit --channels auch
mehrkanalig) und optional direkt als Stimme hochgeladen. Hochgeladen wird
immer Mono. Stille am Anfang und Ende wird per VAD entfernt.

Lokale Aufnahme erfordert einen Build mit -tags voice.

Beispiele:
  chatterbox record -o anna.wav
  chatterbox record --upload anna
  chatterbox record --channels 2 -o stereo.wav
  chatterbox record --list-devices`,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVarP(&recordOut, "out", "o", "", "Ausgabedatei (default: aufnahme-<zeit>.wav)")
	recordCmd.Flags().StringVar(&recordDevice, "device", "", "Name des Eingabegeräts (default: Systemstandard)")
	recordCmd.Flags().IntVar(&recordSampleRate, "sample-rate", audio.DefaultLocalSampleRate, "Aufnahme-Sample-Rate")
	recordCmd.Flags().StringVar(&recordUploadID, "upload", "", "Aufnahme als Stimme mit dieser ID hochladen")
	recordCmd.Flags().BoolVar(&recordNoTrim, "no-trim", false, "Stille nicht entfernen")
	recordCmd.Flags().IntVar(&recordChannels, "channels", audio.DefaultLocalChannels, "Anzahl Aufnahmekanäle (Datei behält alle Kanäle)")
	recordCmd.Flags().BoolVar(&recordListDevices, "list-devices", false, "Eingabegeräte auflisten")

	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	if recordListDevices {
		return listInputDevices(cmd)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := cliLogger(cfg)

	policy, err := audio.ParseChannelPolicy(cfg.Audio.ChannelPolicy)
	if err != nil {
		return err
	}

	device := audio.NewLocalDevice(audio.LocalConfig{
		SampleRate: recordSampleRate,
		Channels:   recordChannels,
		DeviceName: recordDevice,
	}, logger.Named("device"))
	session := audio.NewCaptureSession(device, logger.Named("capture"))

	model := tui.NewRecorderModel(session, "Chatterbox Aufnahme",
		cfg.Audio.CaptureTimeout.Duration, cfg.Audio.MaxCapture.Duration)
	final, err := tea.NewProgram(model).Run()
	if err != nil {
		return err
	}

	rm := final.(tui.RecorderModel)
	if rm.Aborted() {
		fmt.Fprintln(cmd.OutOrStdout(), "Aufnahme abgebrochen")
		return nil
	}
	capture, err := rm.Result()
	if err != nil {
		printError(os.Stderr, "Aufnahme fehlgeschlagen", err)
		return err
	}
	if capture == nil {
		err := errors.New("no audio captured")
		printError(os.Stderr, "Keine Audiodaten aufgenommen", err)
		return err
	}

	ctx, cancel := interruptContext(cmd.Context())
	defer cancel()

	buf, err := audio.NewDecoderRegistry().Decode(ctx, capture.Data, capture.MIMEType)
	if err != nil {
		printError(os.Stderr, "Aufnahme nicht lesbar", err)
		return err
	}

	if cfg.Audio.TrimSilence && !recordNoTrim {
		trim := audio.DefaultTrimConfig()
		trim.Mode = cfg.Audio.VADMode
		trimmed, err := audio.TrimSilence(buf, trim)
		if err != nil {
			logger.Warn("Silence trimming failed, keeping full recording", "error", err)
		} else {
			buf = trimmed
		}
	}

	var wav []byte
	if buf.NumChannels() > 1 {
		wav, err = audio.EncodeWAVChannels(buf)
	} else {
		wav, err = audio.EncodeWAV(buf, policy)
	}
	if err != nil {
		return err
	}

	out := recordOut
	if out == "" {
		out = fmt.Sprintf("aufnahme-%s.wav", time.Now().Format("20060102-150405"))
	}
	if err := writeOutput(out, wav); err != nil {
		printError(os.Stderr, "Datei konnte nicht geschrieben werden", err)
		return err
	}
	peak := audio.Peak(buf)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, %d Hz, %d Kanäle, Pegel %.0f%%)\n",
		tui.StatusOKStyle.Render("✓"), out, buf.Duration().Round(time.Millisecond), buf.SampleRate,
		buf.NumChannels(), peak*100)
	if peak < audio.SilentPeak {
		fmt.Fprintln(os.Stderr, tui.StatusWarnStyle.Render("Warnung: Aufnahme wirkt stumm, Mikrofon prüfen"))
	}

	if recordUploadID == "" {
		return nil
	}
	return uploadRecording(ctx, cmd, recordUploadID, buf)
}

func uploadRecording(ctx context.Context, cmd *cobra.Command, voiceID string, buf *audio.AudioBuffer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := newCLIService(cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	result := svc.UploadCapture(ctx, voiceID, buf)
	if err := statusError(result.Status); err != nil {
		printError(os.Stderr, "Upload fehlgeschlagen", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", tui.StatusOKStyle.Render("✓"), result.Message)
	return nil
}

func listInputDevices(cmd *cobra.Command) error {
	devices, err := audio.ListInputDevices()
	if err != nil {
		printError(os.Stderr, "Geräte nicht verfügbar", err)
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Keine Eingabegeräte gefunden")
		return nil
	}
	for _, d := range devices {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d Kanäle, %.0f Hz)\n",
			marker, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
	}
	return nil
}

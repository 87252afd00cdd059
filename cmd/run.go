package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/andresmejia3/crossfade/internal/comm"
	"github.com/andresmejia3/crossfade/internal/config"
	"github.com/andresmejia3/crossfade/internal/crossfade"
	"github.com/andresmejia3/crossfade/internal/emitter"
	"github.com/andresmejia3/crossfade/internal/imageio"
	"github.com/andresmejia3/crossfade/internal/types"
	"github.com/andresmejia3/crossfade/internal/utils"
	"github.com/andresmejia3/crossfade/internal/worker"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// runFlags receives the command line values before they are merged with
// the config file.
var runFlags = config.Default()

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Render the crossfade frames of an image across parallel workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRunConfig(cmd)
		if err != nil {
			return err
		}
		if err := validateRunFlags(cfg); err != nil {
			return err
		}
		return runCrossfade(cmd.Context(), cfg)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.Input, "input", "i", "", "Path to the color image")
	f.StringVarP(&runFlags.Output, "output", "o", runFlags.Output, "Output path prefix; frames are written as <prefix>_frame_NNN.<format>")
	f.IntVarP(&runFlags.Frames, "frames", "f", runFlags.Frames, "Number of frames, from full color to grayscale (>= 2)")
	f.IntVarP(&runFlags.Workers, "workers", "w", 0, "Number of participants including the coordinator (0 = one per CPU)")
	f.StringVar(&runFlags.Transport, "transport", runFlags.Transport, "Worker transport: process (one OS process per worker) or local (goroutines)")
	f.StringVar(&runFlags.Format, "format", runFlags.Format, "Output format: png, bmp or tiff (lossless only)")
	f.StringVar(&runFlags.OnOutputError, "on-output-error", runFlags.OnOutputError, "What to do when a frame cannot be written: abort or skip")
	f.BoolVar(&runFlags.Compress, "compress", false, "zstd-compress large messages between processes")
	f.StringVar(&runFlags.Video.Path, "video", "", "Also assemble the frames into this video file with ffmpeg")
	f.IntVar(&runFlags.Video.FPS, "fps", runFlags.Video.FPS, "Frame rate of the assembled video")
	f.StringVar(&runFlags.MQTT.Broker, "mqtt-broker", "", "Publish frame events to this MQTT broker (host:port)")
	f.StringVar(&runFlags.MQTT.Topic, "mqtt-topic", runFlags.MQTT.Topic, "Base MQTT topic for frame events")

	rootCmd.AddCommand(runCmd)
}

// flagFields maps each run flag to the config field it overrides.
var flagFields = map[string]func(dst, src *config.Config){
	"input":           func(d, s *config.Config) { d.Input = s.Input },
	"output":          func(d, s *config.Config) { d.Output = s.Output },
	"frames":          func(d, s *config.Config) { d.Frames = s.Frames },
	"workers":         func(d, s *config.Config) { d.Workers = s.Workers },
	"transport":       func(d, s *config.Config) { d.Transport = s.Transport },
	"format":          func(d, s *config.Config) { d.Format = s.Format },
	"on-output-error": func(d, s *config.Config) { d.OnOutputError = s.OnOutputError },
	"compress":        func(d, s *config.Config) { d.Compress = s.Compress },
	"video":           func(d, s *config.Config) { d.Video.Path = s.Video.Path },
	"fps":             func(d, s *config.Config) { d.Video.FPS = s.Video.FPS },
	"mqtt-broker":     func(d, s *config.Config) { d.MQTT.Broker = s.MQTT.Broker },
	"mqtt-topic":      func(d, s *config.Config) { d.MQTT.Topic = s.MQTT.Topic },
}

// mergeConfig overlays the explicitly set flags onto base.
func mergeConfig(base, flags *config.Config, changed func(name string) bool) *config.Config {
	out := *base
	for name, apply := range flagFields {
		if changed(name) {
			apply(&out, flags)
		}
	}
	return &out
}

func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	if configPath == "" {
		cfg := *runFlags
		return &cfg, nil
	}
	base, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return mergeConfig(base, runFlags, cmd.Flags().Changed), nil
}

// validateRunFlags checks cfg and fills in derived defaults.
func validateRunFlags(cfg *config.Config) error {
	if cfg.Input == "" {
		return fmt.Errorf("an input image is required (--input)")
	}
	info, err := os.Stat(cfg.Input)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %w", err)
		}
		return fmt.Errorf("unable to access input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input path %s is a directory, expected an image file", cfg.Input)
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if cfg.Format, err = imageio.ParseFormat(cfg.Format); err != nil {
		return err
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return nil
}

// reportedError marks an error whose details were already printed.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

func reported(err error) bool {
	var r reportedError
	return errors.As(err, &r)
}

// runCrossfade renders every frame of cfg on the coordinator side.
func runCrossfade(ctx context.Context, cfg *config.Config) error {
	policy, err := crossfade.ParseOutputPolicy(cfg.OnOutputError)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(cfg.Output); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	runID := uuid.New()
	led := newLedger(ctx, DB)
	if id, ok := led.start(cfg); ok {
		runID = id
	}

	fmt.Fprintf(os.Stderr, "🎬 Run %s: %d frames with %d workers (%s transport)\n", runID.String()[:8], cfg.Frames, cfg.Workers, cfg.Transport)

	bar := progressbar.NewOptions(cfg.Frames,
		progressbar.OptionSetDescription("🎞️  Writing frames"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)
	observers := []crossfade.Observer{
		crossfade.ObserverFunc(func(types.FrameEvent) { bar.Add(1) }),
		led,
	}

	var em *emitter.Emitter
	if cfg.MQTT.Broker != "" {
		pub, err := emitter.Dial(cfg.MQTT)
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  MQTT disabled: %v\n", err)
		} else {
			em = emitter.New(pub, cfg.MQTT.Topic, cfg.MQTT.QoS, runID.String())
			defer em.Close()
			observers = append(observers, em)
		}
	}

	opts := crossfade.Options{
		Input:     cfg.Input,
		NumFrames: cfg.Frames,
		Decode: func(path string) (*types.Image, error) {
			img, err := imageio.Decode(path)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(os.Stderr, "🖼️  Loaded %s (%dx%d)\n", path, img.Width, img.Height)
			led.image(path, img)
			return img, nil
		},
		Sink: &crossfade.Sink{
			Encode:    imageio.Encode,
			Path:      func(f int) string { return imageio.FrameName(cfg.Output, f, cfg.Format) },
			Policy:    policy,
			Observers: observers,
		},
	}

	var report *crossfade.Report
	switch cfg.Transport {
	case "local":
		report, err = runLocal(ctx, cfg.Workers, opts)
	default:
		report, err = runProcesses(ctx, cfg, opts)
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	led.finish(report, err)
	if em != nil {
		em.Summary(summary(report, err))
	}

	if err != nil {
		utils.ShowError("Crossfade run failed", err, nil)
		return reportedError{err}
	}

	fmt.Fprintf(os.Stderr, "⏱️  Processing time: %.6f s\n", report.Elapsed.Seconds())
	if len(report.Skipped) > 0 {
		fmt.Fprintf(os.Stderr, "⚠️  %d frames could not be written: %v\n", len(report.Skipped), report.Skipped)
	}
	fmt.Fprintf(os.Stderr, "🏁 %d frames written to %s\n", report.Written, utils.FramePattern(cfg.Output, cfg.Format))

	if cfg.Video.Path != "" {
		if len(report.Skipped) > 0 {
			fmt.Fprintf(os.Stderr, "⚠️  Skipping video assembly, the frame sequence has gaps\n")
			return nil
		}
		fmt.Fprintf(os.Stderr, "📼 Assembling %s at %d fps...\n", cfg.Video.Path, cfg.Video.FPS)
		if err := utils.AssembleVideo(ctx, utils.FramePattern(cfg.Output, cfg.Format), cfg.Video.FPS, cfg.Video.Path); err != nil {
			utils.ShowError("Video assembly failed", err, nil)
			return reportedError{err}
		}
	}
	return nil
}

// runLocal runs every participant as a goroutine of this process.
func runLocal(ctx context.Context, workers int, opts crossfade.Options) (*crossfade.Report, error) {
	var report *crossfade.Report
	err := comm.RunLocal(ctx, workers, func(ctx context.Context, c comm.Communicator) error {
		o := opts
		if c.Rank() != comm.Root {
			o.Input, o.Decode, o.Sink = "", nil, nil
		}
		rep, err := crossfade.Run(ctx, c, o)
		if c.Rank() == comm.Root {
			report = rep
		}
		return err
	})
	return report, err
}

// runProcesses runs ranks 1..N-1 as child processes and rank 0 here.
func runProcesses(ctx context.Context, cfg *config.Config, opts crossfade.Options) (*crossfade.Report, error) {
	pool, err := worker.NewPool(ctx, cfg.Workers, worker.Options{
		Frames:   cfg.Frames,
		Compress: cfg.Compress,
		Debug:    debug,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start workers: %w", err)
	}

	report, runErr := crossfade.Run(ctx, pool.Comm(), opts)
	closeErr := pool.Close()
	if runErr == nil {
		return report, closeErr
	}

	// A worker that vanished mid-run shows up as a closed link; its logs
	// say why.
	if errors.Is(runErr, comm.ErrClosed) || errors.Is(runErr, comm.ErrDesync) {
		var exitErr *worker.ExitError
		for _, e := range unwrapAll(closeErr) {
			if errors.As(e, &exitErr) {
				utils.ShowError(fmt.Sprintf("Worker %d crashed", exitErr.Process.Rank), exitErr.Err, exitErr.Process.Cmd)
			}
		}
	}
	return report, runErr
}

func unwrapAll(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func summary(report *crossfade.Report, err error) emitter.SummaryMessage {
	msg := emitter.SummaryMessage{Status: "completed"}
	if err != nil {
		msg.Status = "failed"
	}
	if report != nil {
		msg.Width, msg.Height = report.Width, report.Height
		msg.Workers, msg.Frames = report.Workers, report.Frames
		msg.Written, msg.Skipped = report.Written, report.Skipped
		msg.ElapsedMS = float64(report.Elapsed.Microseconds()) / 1000
	}
	return msg
}

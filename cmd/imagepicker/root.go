package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"imagepicker/discovery"
	"imagepicker/internal/app"
	"imagepicker/internal/config"
	"imagepicker/internal/logging"
	"imagepicker/internal/overlay"
	"imagepicker/internal/page"
	"imagepicker/internal/panel"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	storeURL   string
	live       bool
	logLevel   string
}

// filterFlags override the persisted filter for one run.
type filterFlags struct {
	minWidth     int
	minHeight    int
	noBackground bool
	kinds        []string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.minWidth, "min-width", -1, "minimum image width in pixels")
	cmd.Flags().IntVar(&f.minHeight, "min-height", -1, "minimum image height in pixels")
	cmd.Flags().BoolVar(&f.noBackground, "no-background", false, "skip CSS background images")
	cmd.Flags().StringSliceVar(&f.kinds, "kinds", nil, "accepted kinds (jpg,png,gif,webp,svg)")
}

// apply returns opts with the flags that were set, and whether any was.
func (f *filterFlags) apply(cmd *cobra.Command, opts discovery.FilterOptions) (discovery.FilterOptions, bool) {
	out := opts.Clone()
	changed := false
	if cmd.Flags().Changed("min-width") {
		out.MinWidth, changed = f.minWidth, true
	}
	if cmd.Flags().Changed("min-height") {
		out.MinHeight, changed = f.minHeight, true
	}
	if f.noBackground {
		out.IncludeBackgroundImages, changed = false, true
	}
	if len(f.kinds) > 0 {
		out.AcceptedKinds = nil
		for _, k := range f.kinds {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "jpeg" {
				k = string(discovery.KindJPG)
			}
			out.AcceptedKinds = append(out.AcceptedKinds, discovery.Kind(k))
		}
		changed = true
	}
	return out, changed
}

var flags globalFlags

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imagepicker",
		Short: "Find, select and download the images on a web page",
		Long: `imagepicker scans a page for images (img elements, CSS backgrounds and
canvases), keeps a selection per page address across runs and downloads the
selection into a bucket, sequentially and with collision-safe names.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&flags.storeURL, "store", "", "state store URL (file://, mem://, redis://)")
	cmd.PersistentFlags().BoolVar(&flags.live, "live", false, "render the page in headless Chrome")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")

	cmd.AddCommand(
		newScanCmd(),
		newSelectCmd(),
		newDownloadCmd(),
		newGrabCmd(),
		newWatchCmd(),
		newStateCmd(),
	)
	return cmd
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(flags.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return config.Config{}, err
	}
	if flags.storeURL != "" {
		cfg.StoreURL = flags.storeURL
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// cliSession is one CLI run: a runtime, the target tab and a panel on it.
type cliSession struct {
	cfg     config.Config
	logger  *slog.Logger
	runtime *app.Runtime
	tab     page.Tab
	panel   *panel.Panel
}

type sessionOptions struct {
	poll     time.Duration
	renderer func(tabID string) overlay.Renderer
}

func openSession(ctx context.Context, target string, so sessionOptions) (*cliSession, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if flags.logLevel == "" {
		level = logging.LevelFromEnv(level)
	}
	logger := logging.New(level, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	rt, err := app.New(ctx, app.Options{Config: cfg, Logger: logger, Renderer: so.renderer})
	if err != nil {
		return nil, err
	}
	var tab page.Tab
	if flags.live {
		tab, err = rt.OpenLive(ctx, target)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
	} else {
		tab = rt.OpenStatic(normalizeTarget(target), so.poll)
	}
	s := &cliSession{cfg: cfg, logger: logger, runtime: rt, tab: tab}
	s.panel = rt.NewPanel(tab, printStatus)
	return s, nil
}

func (s *cliSession) Close() {
	s.panel.Close()
	if err := s.runtime.Close(); err != nil {
		s.logger.Warn("shutdown", "error", err)
	}
}

// open binds the panel and makes sure a scan ran with the effective filter.
func (s *cliSession) open(ctx context.Context, cmd *cobra.Command, ff *filterFlags) error {
	if _, err := s.panel.Open(ctx); err != nil {
		return err
	}
	st := s.panel.State()
	scanned := st.Options.DetectOnPanelOpen
	if ff != nil {
		if opts, changed := ff.apply(cmd, st.Options); changed {
			if err := s.panel.SetOptions(ctx, opts); err != nil {
				return err
			}
			scanned = false
		}
	}
	if !scanned {
		if _, err := s.panel.Scan(ctx); err != nil {
			return err
		}
	}
	return nil
}

// normalizeTarget lets a bare host or a local path stand in for a URL.
func normalizeTarget(target string) string {
	t := strings.TrimSpace(target)
	if strings.Contains(t, "://") || strings.HasPrefix(t, "about:") {
		return t
	}
	if _, err := os.Stat(t); err == nil {
		if abs, err := filepath.Abs(t); err == nil {
			return "file://" + abs
		}
	}
	return "https://" + t
}

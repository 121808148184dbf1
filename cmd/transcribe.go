package cmd

import (
	"fmt"

	"github.com/joegoldin/transcribe/internal/config"
	"github.com/joegoldin/transcribe/internal/invoke"
	"github.com/joegoldin/transcribe/internal/logging"
	"github.com/joegoldin/transcribe/internal/transcribe"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type transcribeOpts struct {
	model   string
	backend string
	config  string
	verbose bool
}

func (o *transcribeOpts) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.model, "model", "m", "", "model tier (tiny, base, small, medium, large, turbo; default from config: small)")
	f.StringVarP(&o.backend, "backend", "b", "", "backend: whisper or openai (default from config: whisper)")
	f.StringVar(&o.config, "config", "", "config file path")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging on stderr")
}

func runTranscribe(cmd *cobra.Command, opts *transcribeOpts, args []string) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}

	var cfg *config.Config
	var err error
	if opts.config != "" {
		cfg, err = config.LoadFrom(opts.config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv()
	if opts.model != "" {
		cfg.Transcribe.Model = opts.model
	}
	if opts.backend != "" {
		cfg.Transcribe.Backend = opts.backend
	}
	if err := cfg.Validate(); err != nil {
		return invoke.UsageError(fmt.Errorf("invalid configuration: %w", err))
	}

	log, err := logging.New(cfg.Log.Level, opts.verbose, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer log.Sync()

	loader, err := transcribe.NewLoader(cfg, cmd.ErrOrStderr(), log)
	if err != nil {
		return invoke.UsageError(err)
	}
	log.Debug("starting", zap.String("backend", loader.Name()), zap.String("tier", cfg.Transcribe.Model), zap.String("version", Version))

	inv := &invoke.Invoker{
		Loader: loader,
		Tier:   cfg.Transcribe.Model,
		Stdout: cmd.OutOrStdout(),
		Log:    log,
	}
	return inv.Run(cmd.Context(), args)
}

// Package invoke runs one transcription from argument to printed text.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joegoldin/transcribe/internal/audio"
	"github.com/joegoldin/transcribe/internal/transcribe"
	"go.uber.org/zap"
)

// Invoker performs a single, strictly sequential transcription: validate
// the argument, check the file, load the model, transcribe, print.
type Invoker struct {
	Loader transcribe.Loader
	Tier   string
	Stdout io.Writer
	Log    *zap.Logger
}

func (inv *Invoker) Run(ctx context.Context, args []string) error {
	log := inv.Log
	if log == nil {
		log = zap.NewNop()
	}

	if len(args) != 1 {
		return UsageError(ErrUsage)
	}
	path := args[0]
	if strings.TrimSpace(path) == "" {
		return UsageError(errors.New("audio file path is empty"))
	}

	// The file is checked before the model so a typo never costs a load.
	info, err := audio.Probe(path)
	if err != nil {
		return newError(StageInput, err)
	}
	log.Debug("probed input",
		zap.String("path", info.Path),
		zap.String("format", info.Format),
		zap.Int64("bytes", info.Size),
		zap.Bool("wav_header", info.Header),
		zap.Int("sample_rate", info.SampleRate),
		zap.Int("channels", info.Channels),
		zap.Duration("duration", info.Duration),
	)

	tier := inv.Tier
	if tier == "" {
		tier = transcribe.DefaultTier
	}

	start := time.Now()
	model, err := inv.Loader.Load(ctx, tier)
	if err != nil {
		return newError(StageLoad, err)
	}
	defer func() {
		if cerr := model.Close(); cerr != nil {
			log.Warn("failed to release model", zap.Error(cerr))
		}
	}()
	log.Debug("model loaded", zap.String("backend", inv.Loader.Name()), zap.String("tier", tier), zap.Duration("took", time.Since(start)))

	start = time.Now()
	result, err := model.Transcribe(ctx, path)
	if err != nil {
		// Backends that fetch weights lazily report a failed fetch here.
		if errors.Is(err, transcribe.ErrModelNotFound) {
			return newError(StageLoad, err)
		}
		return newError(StageTranscribe, err)
	}
	if result == nil {
		result = &transcribe.Result{}
	}
	log.Debug("transcribed",
		zap.String("language", result.Language),
		zap.Int("segments", len(result.Segments)),
		zap.Float64("audio_seconds", result.Duration),
		zap.Duration("took", time.Since(start)),
	)

	if !utf8.ValidString(result.Text) {
		return newError(StageTranscribe, errors.New("model returned text that is not valid UTF-8"))
	}
	text := result.Transcript()
	if text == "" {
		log.Warn("model produced an empty transcript", zap.String("path", path))
	}

	if _, err := io.WriteString(inv.Stdout, text+"\n"); err != nil {
		return newError(StageOutput, fmt.Errorf("write transcript: %w", err))
	}
	return nil
}

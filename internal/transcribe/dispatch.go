package transcribe

import (
	"fmt"
	"io"

	"github.com/joegoldin/transcribe/internal/config"
	"go.uber.org/zap"
)

// NewLoader builds the loader for the configured backend. Nothing is loaded
// here; construction is cheap and never touches the network or weights.
func NewLoader(cfg *config.Config, stderr io.Writer, log *zap.Logger) (Loader, error) {
	switch cfg.Transcribe.Backend {
	case "", "whisper":
		return NewWhisper(cfg.Transcribe.Whisper.Binary, cfg.ResolveModelPath(), stderr, log), nil
	case "openai":
		o := cfg.Transcribe.OpenAI
		return NewOpenAI(o.APIKey, o.Model, o.BaseURL, log), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Transcribe.Backend)
	}
}

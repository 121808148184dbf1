package transcribe

import (
	"context"
	"errors"
	"slices"
)

// DefaultTier is the model tier used when none is configured.
const DefaultTier = "small"

var (
	ErrUnknownTier    = errors.New("unknown model tier")
	ErrBinaryNotFound = errors.New("whisper binary not found")
	ErrModelNotFound  = errors.New("model weights not found")
	ErrNoAPIKey       = errors.New("API key not configured")
)

var tiers = []string{
	"tiny", "tiny.en",
	"base", "base.en",
	"small", "small.en",
	"medium", "medium.en",
	"large", "large-v1", "large-v2", "large-v3",
	"large-v3-turbo", "turbo",
}

func ValidTier(name string) bool { return slices.Contains(tiers, name) }

// Loader acquires a speech-to-text model of a given tier. Loading may be
// slow and may touch a weights cache owned by the backend.
type Loader interface {
	Load(ctx context.Context, tier string) (Model, error)
	Name() string
}

// Model is a loaded speech-to-text model. Transcribe never constrains the
// spoken language; the backend auto-detects it.
type Model interface {
	Transcribe(ctx context.Context, audioPath string) (*Result, error)
	Close() error
}

package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

type whisperVariant int

const (
	variantWhisper whisperVariant = iota
	variantWhisperCPP
)

func detectVariant(binary string) whisperVariant {
	base := strings.TrimSuffix(filepath.Base(binary), ".exe")
	switch base {
	case "whisper-cli", "whisper-cpp", "whisper.cpp":
		return variantWhisperCPP
	}
	return variantWhisper
}

// Whisper loads models through a locally installed whisper CLI: either the
// openai-whisper Python tool or a whisper.cpp build.
type Whisper struct {
	binary    string
	modelPath string
	stderr    io.Writer
	log       *zap.Logger
}

// NewWhisper returns a loader for binary. modelPath, if set, is the ggml
// weights file used by whisper.cpp instead of looking one up by tier.
// Diagnostics from the child process are copied to stderr.
func NewWhisper(binary, modelPath string, stderr io.Writer, log *zap.Logger) *Whisper {
	if stderr == nil {
		stderr = io.Discard
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Whisper{binary: binary, modelPath: modelPath, stderr: stderr, log: log}
}

func (w *Whisper) Name() string {
	if detectVariant(w.binary) == variantWhisperCPP {
		return "whisper-cpp"
	}
	return "whisper"
}

func (w *Whisper) Load(ctx context.Context, tier string) (Model, error) {
	variant := detectVariant(w.binary)
	if variant == variantWhisper && !ValidTier(tier) {
		return nil, fmt.Errorf("%w %q (known: %s)", ErrUnknownTier, tier, strings.Join(tiers, ", "))
	}

	path, err := exec.LookPath(w.binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrBinaryNotFound, w.binary, err)
	}

	m := &whisperModel{
		binary:  path,
		variant: variant,
		tier:    tier,
		stderr:  w.stderr,
		log:     w.log.With(zap.String("backend", w.Name()), zap.String("tier", tier)),
	}

	switch variant {
	case variantWhisperCPP:
		if w.modelPath == "" && !ValidTier(tier) && !looksLikeModelFile(tier) {
			return nil, fmt.Errorf("%w %q", ErrUnknownTier, tier)
		}
		weights, err := resolveWhisperCPPModel(w.modelPath, tier)
		if err != nil {
			return nil, err
		}
		m.weights = weights
		m.log.Debug("using whisper.cpp weights", zap.String("path", weights))
	default:
		// openai-whisper downloads weights into its own cache on first use.
		if cached := whisperCachePath(tier); cached != "" {
			if _, err := os.Stat(cached); err != nil {
				m.log.Info("model weights not cached yet, whisper will download them", zap.String("path", cached))
			} else {
				m.log.Debug("model weights cached", zap.String("path", cached))
			}
		}
	}
	return m, nil
}

type whisperModel struct {
	binary  string
	variant whisperVariant
	tier    string
	weights string
	stderr  io.Writer
	log     *zap.Logger
}

func (m *whisperModel) Close() error { return nil }

func (m *whisperModel) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return nil, fmt.Errorf("audio file not found: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "transcribe-whisper-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	args := m.buildArgs(audioPath, tmpDir)
	cmd := exec.CommandContext(ctx, m.binary, args...)
	cmd.WaitDelay = 5 * time.Second

	// Child stdout carries progress chatter, never the transcript: both
	// streams go to our stderr through the warning filter.
	filter := NewWarningFilter(m.stderr, FP16Warning)
	cmd.Stdout = filter
	cmd.Stderr = filter
	cmd.Env = childEnv(os.Environ())

	m.log.Debug("running whisper", zap.String("binary", m.binary), zap.Strings("args", args))
	runErr := cmd.Run()
	if err := filter.Flush(); err != nil {
		m.log.Warn("failed to forward whisper output", zap.Error(err))
	}
	if n := filter.Dropped(); n > 0 {
		m.log.Debug("suppressed FP16 warning", zap.Int("lines", n))
	}
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		err := fmt.Errorf("%s failed: %w", filepath.Base(m.binary), runErr)
		if m.weightsMissing() {
			// openai-whisper fetches weights on first use, so a failed
			// download only surfaces here.
			return nil, fmt.Errorf("%w: %s: %w", ErrModelNotFound, m.tier, err)
		}
		return nil, err
	}

	data, err := os.ReadFile(m.outputPath(audioPath, tmpDir))
	if err != nil {
		return nil, fmt.Errorf("failed to read whisper output: %w", err)
	}
	if m.variant == variantWhisperCPP {
		return parseWhisperCPPOutput(data)
	}
	return parseWhisperOutput(data)
}

// buildArgs never passes a language so the model detects it.
func (m *whisperModel) buildArgs(audioPath, outDir string) []string {
	if m.variant == variantWhisperCPP {
		return []string{
			"-m", m.weights,
			"-f", audioPath,
			"-oj",
			"-of", filepath.Join(outDir, "out"),
			"-np",
			// whisper.cpp assumes English unless told otherwise.
			"-l", "auto",
		}
	}
	return []string{
		audioPath,
		"--model", m.tier,
		"--output_format", "json",
		"--output_dir", outDir,
		"--verbose", "False",
	}
}

// weightsMissing reports whether the Python tool still has no cached
// weights for the tier.
func (m *whisperModel) weightsMissing() bool {
	if m.variant != variantWhisper {
		return false
	}
	cached := whisperCachePath(m.tier)
	if cached == "" {
		return false
	}
	_, err := os.Stat(cached)
	return errors.Is(err, fs.ErrNotExist)
}

func (m *whisperModel) outputPath(audioPath, outDir string) string {
	if m.variant == variantWhisperCPP {
		return filepath.Join(outDir, "out.json")
	}
	return filepath.Join(outDir, stem(filepath.Base(audioPath))+".json")
}

// stem drops the extension the way whisper names its output files: leading
// dots belong to the name, so ".wav" keeps its whole name.
func stem(name string) string {
	rest := strings.TrimLeft(name, ".")
	i := strings.LastIndexByte(rest, '.')
	if i < 0 {
		return name
	}
	return name[:len(name)-len(rest)+i]
}

// childEnv forces UTF-8 stdio in the Python child and adds the FP16
// suppression to any PYTHONWARNINGS already set.
func childEnv(env []string) []string {
	warn := FP16Warning.pythonEnv()
	out := make([]string, 0, len(env)+3)
	for _, kv := range env {
		switch {
		case strings.HasPrefix(kv, "PYTHONWARNINGS="):
			if cur := strings.TrimPrefix(kv, "PYTHONWARNINGS="); cur != "" {
				warn = cur + "," + warn
			}
		case strings.HasPrefix(kv, "PYTHONIOENCODING="), strings.HasPrefix(kv, "PYTHONUTF8="):
		default:
			out = append(out, kv)
		}
	}
	return append(out, "PYTHONIOENCODING=utf-8", "PYTHONUTF8=1", "PYTHONWARNINGS="+warn)
}

type whisperOutput struct {
	Text     string           `json:"text"`
	Segments []whisperSegment `json:"segments"`
	Language string           `json:"language"`
}

type whisperSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

func parseWhisperOutput(data []byte) (*Result, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse whisper JSON: %w", err)
	}

	result := &Result{
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
	}
	for _, seg := range out.Segments {
		result.Segments = append(result.Segments, Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		})
	}
	result.Duration = result.lastEnd()
	return result, nil
}

type whisperCPPOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func parseWhisperCPPOutput(data []byte) (*Result, error) {
	var out whisperCPPOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse whisper.cpp JSON: %w", err)
	}

	result := &Result{Language: out.Result.Language}
	for _, seg := range out.Transcription {
		result.Segments = append(result.Segments, Segment{
			Start: float64(seg.Offsets.From) / 1000,
			End:   float64(seg.Offsets.To) / 1000,
			Text:  seg.Text,
		})
	}
	result.Text = joinSegments(result.Segments)
	result.Duration = result.lastEnd()
	return result, nil
}

func looksLikeModelFile(name string) bool {
	return strings.HasSuffix(name, ".bin") || strings.ContainsRune(name, filepath.Separator) || strings.ContainsRune(name, '/')
}

// resolveWhisperCPPModel finds the ggml weights for tier. An explicit path
// wins; otherwise ggml-<tier>.bin is searched in the usual data directories.
func resolveWhisperCPPModel(override, tier string) (string, error) {
	var candidates []string
	switch {
	case override != "":
		candidates = []string{override}
	case looksLikeModelFile(tier):
		candidates = []string{tier}
	default:
		name := "ggml-" + tier + ".bin"
		for _, dir := range whisperCPPModelDirs() {
			candidates = append(candidates, filepath.Join(dir, name))
		}
	}

	for _, p := range candidates {
		info, err := os.Stat(p)
		if err == nil && info.Mode().IsRegular() {
			return p, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s: %w", ErrModelNotFound, p, err)
		}
	}
	return "", fmt.Errorf("%w: looked in %s", ErrModelNotFound, strings.Join(candidates, ", "))
}

func whisperCPPModelDirs() []string {
	var dirs []string
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dataHome = filepath.Join(home, ".local", "share")
		}
	}
	if dataHome != "" {
		dirs = append(dirs,
			filepath.Join(dataHome, "whisper-cpp"),
			filepath.Join(dataHome, "whisper"),
		)
	}
	return append(dirs, "/usr/local/share/whisper-cpp/models", "/usr/share/whisper-cpp/models")
}

var whisperCacheNames = map[string]string{
	"large": "large-v3",
	"turbo": "large-v3-turbo",
}

// whisperCachePath mirrors where openai-whisper stores downloaded weights.
func whisperCachePath(tier string) string {
	cacheHome := os.Getenv("XDG_CACHE_HOME")
	if cacheHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		cacheHome = filepath.Join(home, ".cache")
	}
	name := tier
	if alias, ok := whisperCacheNames[tier]; ok {
		name = alias
	}
	return filepath.Join(cacheHome, "whisper", name+".pt")
}

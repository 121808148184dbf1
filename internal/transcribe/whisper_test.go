package transcribe

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

const fakeWhisperScript = `#!/bin/sh
[ -n "$FAKE_WHISPER_ARGS" ] && echo "$@" > "$FAKE_WHISPER_ARGS"
[ -n "$FAKE_WHISPER_ENV" ] && env > "$FAKE_WHISPER_ENV"
in=""
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output_dir) out="$2"; shift 2 ;;
    --*) shift 2 ;;
    *) in="$1"; shift ;;
  esac
done
echo "/opt/whisper/transcribe.py:126: UserWarning: FP16 is not supported on CPU; using FP32 instead" >&2
echo '  warnings.warn("FP16 is not supported on CPU; using FP32 instead")' >&2
echo "/opt/whisper/audio.py:10: DeprecationWarning: unrelated" >&2
echo "Detected language: Hindi"
case "$in" in
  *corrupt*) echo "RuntimeError: Failed to load audio" >&2; exit 1 ;;
esac
base=$(basename "$in")
base="${base%.*}"
printf '%s' '{"text": " namaste duniya नमस्ते", "language": "hi", "segments": [{"start": 0.0, "end": 1.5, "text": " namaste"}, {"start": 1.5, "end": 2.5, "text": " duniya"}]}' > "$out/$base.json"
`

const fakeWhisperCPPScript = `#!/bin/sh
[ -n "$FAKE_WHISPER_ARGS" ] && echo "$@" > "$FAKE_WHISPER_ARGS"
of=""
while [ $# -gt 0 ]; do
  case "$1" in
    -of) of="$2"; shift 2 ;;
    -m|-f|-l) shift 2 ;;
    *) shift ;;
  esac
done
printf '%s' '{"result": {"language": "hi"}, "transcription": [{"offsets": {"from": 0, "to": 1500}, "text": " namaste"}, {"offsets": {"from": 1500, "to": 3000}, "text": " duniya"}]}' > "$of.json"
`

func writeFakeBinary(t *testing.T, name, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake whisper binaries are shell scripts")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeAudio(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("RIFF"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWhisperName(t *testing.T) {
	w := NewWhisper("whisper", "", nil, nil)
	if w.Name() != "whisper" {
		t.Errorf("expected 'whisper', got %s", w.Name())
	}
}

func TestWhisperCPPName(t *testing.T) {
	w := NewWhisper("whisper-cli", "", nil, nil)
	if w.Name() != "whisper-cpp" {
		t.Errorf("expected 'whisper-cpp', got %s", w.Name())
	}
}

func TestDetectVariant(t *testing.T) {
	tests := []struct {
		binary  string
		variant whisperVariant
	}{
		{"whisper", variantWhisper},
		{"/home/u/.local/bin/whisper", variantWhisper},
		{"whisper-cli", variantWhisperCPP},
		{"/nix/store/xyz/bin/whisper-cli", variantWhisperCPP},
		{"whisper-cpp", variantWhisperCPP},
		{"whisper-cli.exe", variantWhisperCPP},
	}
	for _, tt := range tests {
		v := detectVariant(tt.binary)
		if v != tt.variant {
			t.Errorf("detectVariant(%q) = %d, want %d", tt.binary, v, tt.variant)
		}
	}
}

func TestWhisperBinaryNotFound(t *testing.T) {
	w := NewWhisper("nonexistent-binary-xyz", "", nil, nil)
	_, err := w.Load(context.Background(), "small")
	if !errors.Is(err, ErrBinaryNotFound) {
		t.Errorf("expected ErrBinaryNotFound, got %v", err)
	}
}

func TestWhisperUnknownTier(t *testing.T) {
	w := NewWhisper("whisper", "", nil, nil)
	_, err := w.Load(context.Background(), "gigantic")
	if !errors.Is(err, ErrUnknownTier) {
		t.Errorf("expected ErrUnknownTier, got %v", err)
	}
}

func TestWhisperBuildArgsNoLanguage(t *testing.T) {
	m := &whisperModel{binary: "whisper", variant: variantWhisper, tier: "small"}
	args := m.buildArgs("/tmp/test.wav", "/tmp/out")
	found := map[string]bool{}
	for _, a := range args {
		found[a] = true
	}
	if !found["--model"] || !found["small"] {
		t.Errorf("expected --model small in args: %v", args)
	}
	if !found["--output_format"] || !found["json"] {
		t.Errorf("expected --output_format json in args: %v", args)
	}
	if !found["--output_dir"] || !found["/tmp/out"] {
		t.Errorf("expected --output_dir /tmp/out in args: %v", args)
	}
	if found["--language"] {
		t.Errorf("language must not be forced: %v", args)
	}
}

func TestWhisperCPPBuildArgs(t *testing.T) {
	m := &whisperModel{binary: "whisper-cli", variant: variantWhisperCPP, tier: "small", weights: "/models/ggml-small.bin"}
	args := m.buildArgs("/tmp/test.wav", "/tmp/out")
	joined := strings.Join(args, " ")
	for _, want := range []string{"-m /models/ggml-small.bin", "-f /tmp/test.wav", "-oj", "-np", "-l auto", "-of /tmp/out/out"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected %q in args: %v", want, args)
		}
	}
}

func TestWhisperTranscribe(t *testing.T) {
	bin := writeFakeBinary(t, "whisper", fakeWhisperScript)
	argsFile := filepath.Join(t.TempDir(), "args")
	envFile := filepath.Join(t.TempDir(), "env")
	t.Setenv("FAKE_WHISPER_ARGS", argsFile)
	t.Setenv("FAKE_WHISPER_ENV", envFile)
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	var stderr bytes.Buffer
	w := NewWhisper(bin, "", &stderr, nil)
	model, err := w.Load(context.Background(), "small")
	if err != nil {
		t.Fatal(err)
	}
	defer model.Close()

	result, err := model.Transcribe(context.Background(), writeAudio(t, "clip.wav"))
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "namaste duniya नमस्ते" {
		t.Errorf("unexpected text %q", result.Text)
	}
	if result.Language != "hi" {
		t.Errorf("expected hi, got %s", result.Language)
	}
	if len(result.Segments) != 2 || result.Duration != 2.5 {
		t.Errorf("unexpected segments %+v duration %v", result.Segments, result.Duration)
	}

	if strings.Contains(stderr.String(), "FP16") {
		t.Errorf("FP16 warning should be suppressed, stderr:\n%s", stderr.String())
	}
	if !strings.Contains(stderr.String(), "DeprecationWarning: unrelated") {
		t.Errorf("unrelated warnings must pass through, stderr:\n%s", stderr.String())
	}
	if !strings.Contains(stderr.String(), "Detected language: Hindi") {
		t.Errorf("child stdout should be forwarded to stderr, got:\n%s", stderr.String())
	}

	args, _ := os.ReadFile(argsFile)
	if strings.Contains(string(args), "--language") {
		t.Errorf("language must not be forced: %s", args)
	}
	env, _ := os.ReadFile(envFile)
	for _, want := range []string{"PYTHONIOENCODING=utf-8", "PYTHONUTF8=1", "PYTHONWARNINGS=ignore:FP16 is not supported on CPU:UserWarning"} {
		if !strings.Contains(string(env), want) {
			t.Errorf("child env missing %s", want)
		}
	}
}

// cachedWeights points the whisper cache at a temp dir holding weights for tier.
func cachedWeights(t *testing.T, tier string) {
	t.Helper()
	cache := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", cache)
	if err := os.MkdirAll(filepath.Join(cache, "whisper"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cache, "whisper", tier+".pt"), []byte("pt"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestWhisperTranscribeFailure(t *testing.T) {
	bin := writeFakeBinary(t, "whisper", fakeWhisperScript)
	cachedWeights(t, "small")
	var stderr bytes.Buffer
	model, err := NewWhisper(bin, "", &stderr, nil).Load(context.Background(), "small")
	if err != nil {
		t.Fatal(err)
	}
	_, err = model.Transcribe(context.Background(), writeAudio(t, "corrupt.wav"))
	if err == nil {
		t.Fatal("expected error for corrupt audio")
	}
	if !strings.Contains(stderr.String(), "Failed to load audio") {
		t.Errorf("child error output should reach stderr, got:\n%s", stderr.String())
	}
	if errors.Is(err, ErrModelNotFound) {
		t.Errorf("cached weights mean the failure is about the audio, got %v", err)
	}
}

func TestWhisperDownloadFailureIsModelNotFound(t *testing.T) {
	bin := writeFakeBinary(t, "whisper", `#!/bin/sh
echo "urllib.error.URLError: <urlopen error [Errno -3] Temporary failure in name resolution>" >&2
exit 1
`)
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	var stderr bytes.Buffer
	model, err := NewWhisper(bin, "", &stderr, nil).Load(context.Background(), "small")
	if err != nil {
		t.Fatal(err)
	}
	_, err = model.Transcribe(context.Background(), writeAudio(t, "clip.wav"))
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
	if !strings.Contains(stderr.String(), "URLError") {
		t.Errorf("download error should reach stderr, got:\n%s", stderr.String())
	}
}

func TestWhisperTranscribeCancelled(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "pid")
	bin := writeFakeBinary(t, "whisper", `#!/bin/sh
echo $$ > "`+pidFile+`.tmp"
mv "`+pidFile+`.tmp" "`+pidFile+`"
exec sleep 30
`)
	cachedWeights(t, "small")

	model, err := NewWhisper(bin, "", nil, nil).Load(context.Background(), "small")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for i := 0; i < 500; i++ {
			if _, err := os.Stat(pidFile); err == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		cancel()
	}()

	start := time.Now()
	_, err = model.Transcribe(ctx, writeAudio(t, "clip.wav"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Second {
		t.Errorf("cancel should stop the child promptly, took %v", elapsed)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatal(err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatal(err)
	}
	proc, err := os.FindProcess(pid)
	if err == nil && proc.Signal(syscall.Signal(0)) == nil {
		t.Errorf("child %d is still running", pid)
	}
}

func TestWhisperFileNotFound(t *testing.T) {
	bin := writeFakeBinary(t, "whisper", fakeWhisperScript)
	model, err := NewWhisper(bin, "", nil, nil).Load(context.Background(), "small")
	if err != nil {
		t.Fatal(err)
	}
	_, err = model.Transcribe(context.Background(), "/nonexistent/file.wav")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestWhisperCPPTranscribe(t *testing.T) {
	bin := writeFakeBinary(t, "whisper-cli", fakeWhisperCPPScript)
	argsFile := filepath.Join(t.TempDir(), "args")
	t.Setenv("FAKE_WHISPER_ARGS", argsFile)

	weights := filepath.Join(t.TempDir(), "ggml-small.bin")
	if err := os.WriteFile(weights, []byte("ggml"), 0644); err != nil {
		t.Fatal(err)
	}

	model, err := NewWhisper(bin, weights, nil, nil).Load(context.Background(), "small")
	if err != nil {
		t.Fatal(err)
	}
	result, err := model.Transcribe(context.Background(), writeAudio(t, "clip.wav"))
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "namaste duniya" {
		t.Errorf("unexpected text %q", result.Text)
	}
	if result.Duration != 3.0 {
		t.Errorf("expected duration 3.0, got %v", result.Duration)
	}
	args, _ := os.ReadFile(argsFile)
	if !strings.Contains(string(args), "-l auto") {
		t.Errorf("whisper.cpp must be asked to detect the language: %s", args)
	}
}

func TestWhisperCPPModelNotFound(t *testing.T) {
	bin := writeFakeBinary(t, "whisper-cli", fakeWhisperCPPScript)
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	_, err := NewWhisper(bin, "", nil, nil).Load(context.Background(), "small")
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
}

func TestResolveWhisperCPPModel(t *testing.T) {
	dataHome := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataHome)
	if err := os.MkdirAll(filepath.Join(dataHome, "whisper-cpp"), 0755); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dataHome, "whisper-cpp", "ggml-base.bin")
	if err := os.WriteFile(want, []byte("ggml"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := resolveWhisperCPPModel("", "base")
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}

	// An explicit override wins even if the tier file exists.
	override := filepath.Join(t.TempDir(), "custom.bin")
	if err := os.WriteFile(override, []byte("ggml"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = resolveWhisperCPPModel(override, "base")
	if err != nil {
		t.Fatal(err)
	}
	if got != override {
		t.Errorf("expected override %s, got %s", override, got)
	}

	// A tier that is itself a path is used as-is.
	got, err = resolveWhisperCPPModel("", override)
	if err != nil {
		t.Fatal(err)
	}
	if got != override {
		t.Errorf("expected path passthrough, got %s", got)
	}
}

func TestStem(t *testing.T) {
	for name, want := range map[string]string{
		"clip.wav":    "clip",
		"a.b.wav":     "a.b",
		"noext":       "noext",
		".wav":        ".wav",
		"..wav":       "..wav",
		".hidden.mp3": ".hidden",
	} {
		if got := stem(name); got != want {
			t.Errorf("stem(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestWhisperOutputPathDotfile(t *testing.T) {
	m := &whisperModel{variant: variantWhisper}
	if got := m.outputPath("/in/.wav", "/out"); got != filepath.Join("/out", ".wav.json") {
		t.Errorf("unexpected output path %s", got)
	}
}

func TestParseWhisperCPPOutputKeepsSegmentSpacing(t *testing.T) {
	result, err := parseWhisperCPPOutput([]byte(`{"transcription": [{"text": "你好"}, {"text": "世界"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "你好世界" {
		t.Errorf("expected 你好世界, got %q", result.Text)
	}
}

func TestWhisperCachePath(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/cache")
	if got := whisperCachePath("small"); got != filepath.Join("/cache", "whisper", "small.pt") {
		t.Errorf("unexpected cache path %s", got)
	}
	if got := whisperCachePath("turbo"); got != filepath.Join("/cache", "whisper", "large-v3-turbo.pt") {
		t.Errorf("unexpected cache path %s", got)
	}
}

func TestChildEnv(t *testing.T) {
	env := childEnv([]string{"PATH=/bin", "PYTHONWARNINGS=ignore::DeprecationWarning", "PYTHONIOENCODING=latin-1"})
	joined := strings.Join(env, "\n")
	if !strings.Contains(joined, "PATH=/bin") {
		t.Error("unrelated variables must be kept")
	}
	if strings.Contains(joined, "latin-1") {
		t.Error("PYTHONIOENCODING should be forced to utf-8")
	}
	if !strings.Contains(joined, "PYTHONWARNINGS=ignore::DeprecationWarning,ignore:FP16 is not supported on CPU:UserWarning") {
		t.Errorf("existing PYTHONWARNINGS should be extended, got:\n%s", joined)
	}
}

func TestParseWhisperCPPOutputEmpty(t *testing.T) {
	result, err := parseWhisperCPPOutput([]byte(`{"transcription": []}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "" || result.Duration != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
	if _, err := parseWhisperCPPOutput([]byte("not json")); err == nil {
		t.Error("expected parse error")
	}
}

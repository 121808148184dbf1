// Package audio inspects input files before they are handed to a model.
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

var ErrNotRegular = errors.New("not a regular file")

// Info describes an input file. Header fields are only filled for WAV
// files whose RIFF header could be parsed.
type Info struct {
	Path       string
	Size       int64
	Format     string
	Header     bool
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// Probe checks that path names a readable regular file and reads what it
// can from the header. Only access problems are errors; undecodable audio
// is left for the model to reject.
func Probe(path string) (*Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot access audio file: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", path, ErrNotRegular)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read audio file: %w", err)
	}
	defer f.Close()

	info := &Info{
		Path:   path,
		Size:   fi.Size(),
		Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
	}
	if info.Format == "wav" || info.Format == "wave" {
		readWAVHeader(f, info)
	}
	return info, nil
}

func readWAVHeader(r io.ReadSeeker, info *Info) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return
	}
	info.Header = true
	info.SampleRate = int(d.SampleRate)
	info.Channels = int(d.NumChans)
	info.BitDepth = int(d.BitDepth)
	if dur, err := d.Duration(); err == nil {
		info.Duration = dur
	}
}

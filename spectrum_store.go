package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/cwsl/reactorwatch/analysis"
)

// SpectrumStore persists acquired spectra as (axis, intensity) file pairs
// named by timestamp, experiment id and iteration, one float per line.
// Compression is optional; compressed pairs carry a .gz suffix and are
// transparent to Load.
type SpectrumStore struct {
	dir      string
	compress bool
}

func NewSpectrumStore(dir string, compress bool) (*SpectrumStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spectra dir: %w", err)
	}
	return &SpectrumStore{dir: dir, compress: compress}, nil
}

// baseName builds the shared stem of an axis/intensity pair.
func (s *SpectrumStore) baseName(experimentID string, iteration int, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%03d", ts.UTC().Format("20060102T150405"), experimentID, iteration)
}

// Save writes the pair and returns the base name (without _axis/_intensity
// suffix) used to reference the spectrum in measurement records.
func (s *SpectrumStore) Save(spec *analysis.Spectrum, experimentID string, iteration int, ts time.Time) (string, error) {
	base := s.baseName(experimentID, iteration, ts)
	if err := s.writeColumn(base+"_axis", spec.Axis); err != nil {
		return "", err
	}
	if err := s.writeColumn(base+"_intensity", spec.Intensity); err != nil {
		return "", err
	}
	return base, nil
}

// Load reads a pair previously written by Save.
func (s *SpectrumStore) Load(base string) (*analysis.Spectrum, error) {
	axis, err := s.readColumn(base + "_axis")
	if err != nil {
		return nil, err
	}
	intensity, err := s.readColumn(base + "_intensity")
	if err != nil {
		return nil, err
	}
	spec := &analysis.Spectrum{Axis: axis, Intensity: intensity}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("stored spectrum %s is corrupt: %w", base, err)
	}
	return spec, nil
}

// AxisPath returns the on-disk path of the axis file for a base name, used
// as the cache identity for stored spectra.
func (s *SpectrumStore) AxisPath(base string) string {
	p := filepath.Join(s.dir, base+"_axis.txt")
	if s.compress {
		p += ".gz"
	}
	return p
}

func (s *SpectrumStore) writeColumn(name string, values []float64) error {
	path := filepath.Join(s.dir, name+".txt")
	if s.compress {
		path += ".gz"
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if s.compress {
		gz = gzip.NewWriter(f)
		w = gz
	}
	bw := bufio.NewWriter(w)
	for _, v := range values {
		if _, err := bw.WriteString(strconv.FormatFloat(v, 'e', 9, 64) + "\n"); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to finish gzip stream %s: %w", path, err)
		}
	}
	return f.Close()
}

func (s *SpectrumStore) readColumn(name string) ([]float64, error) {
	path := filepath.Join(s.dir, name+".txt")
	if s.compress {
		path += ".gz"
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	var values []float64
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("bad sample %q in %s: %w", line, path, err)
		}
		values = append(values, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return values, nil
}

package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

// csvColumns is the stable column set consumed by downstream tooling. Do not
// reorder.
var csvColumns = []string{
	"iteration", "timestamp", "elapsed_minutes", "monomer_area",
	"standard_area", "ratio", "conversion_percent", "success", "nmr_filename",
}

// SummaryWriter rewrites the experiment summary artifact (a human-readable
// text table plus a CSV) after every iteration. Writes go through a temp
// file and rename so the persisted artifact is always a consistent, ordered
// prefix of the experiment.
type SummaryWriter struct {
	textPath string
	csvPath  string
	header   [][2]string
}

// NewSummaryWriter prepares the artifact paths. header entries are echoed
// into the text file's metadata block in order.
func NewSummaryWriter(dir, name, experimentID string, header [][2]string) (*SummaryWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	stem := filepath.Join(dir, fmt.Sprintf("%s_%s_summary", name, experimentID))
	return &SummaryWriter{
		textPath: stem + ".txt",
		csvPath:  stem + ".csv",
		header:   header,
	}, nil
}

// Write rewrites both artifacts from the full result.
func (w *SummaryWriter) Write(result *MonitoringResult) error {
	if err := atomicWrite(w.textPath, func(f *os.File) error {
		return w.writeText(f, result)
	}); err != nil {
		return err
	}
	return atomicWrite(w.csvPath, func(f *os.File) error {
		return w.writeCSV(f, result)
	})
}

func (w *SummaryWriter) writeText(f *os.File, result *MonitoringResult) error {
	var b strings.Builder
	b.WriteString("=== reactorwatch experiment summary ===\n")
	fmt.Fprintf(&b, "experiment_id: %s\n", result.ExperimentID)
	fmt.Fprintf(&b, "started: %s\n", result.StartTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "updated: %s\n", result.EndTime.Format(time.RFC3339))
	for _, kv := range w.header {
		fmt.Fprintf(&b, "%s: %s\n", kv[0], kv[1])
	}
	if result.StopReason != "" {
		fmt.Fprintf(&b, "stop_reason: %s\n", result.StopReason)
	} else {
		b.WriteString("stop_reason: (in progress)\n")
	}
	if result.Baseline != nil {
		fmt.Fprintf(&b, "t0_baseline: monomer %.6g, standard %.6g, ratio %.6g (%d samples)\n",
			result.Baseline.MonomerArea, result.Baseline.StandardArea, result.Baseline.Ratio, result.Baseline.SampleCount)
	}
	b.WriteString("\n")

	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(csvColumns, "\t"))
	for _, rec := range result.Records {
		fmt.Fprintln(tw, strings.Join(recordColumns(rec), "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(result.Errors) > 0 {
		b.WriteString("\n=== error/retry log ===\n")
		ew := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(ew, "timestamp\titeration\terror_type\terror_message\tretry_count\tcontext")
		for _, e := range result.Errors {
			fmt.Fprintf(ew, "%s\t%d\t%s\t%s\t%d\t%s\n",
				e.Timestamp.Format(time.RFC3339), e.Iteration, e.ErrorType,
				strings.ReplaceAll(e.Message, "\n", " "), e.RetryCount, e.Context)
		}
		if err := ew.Flush(); err != nil {
			return err
		}
	}

	_, err := f.WriteString(b.String())
	return err
}

func (w *SummaryWriter) writeCSV(f *os.File, result *MonitoringResult) error {
	cw := csv.NewWriter(f)
	if err := cw.Write(csvColumns); err != nil {
		return err
	}
	for _, rec := range result.Records {
		if err := cw.Write(recordColumns(rec)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func recordColumns(rec MeasurementRecord) []string {
	standard := ""
	if rec.StandardArea != nil {
		standard = strconv.FormatFloat(*rec.StandardArea, 'g', 8, 64)
	}
	conversion := ""
	if rec.ConversionPercent != nil {
		conversion = strconv.FormatFloat(*rec.ConversionPercent, 'f', 2, 64)
	}
	return []string{
		strconv.Itoa(rec.Iteration),
		rec.Timestamp.Format(time.RFC3339),
		strconv.FormatFloat(rec.ElapsedMinutes, 'f', 1, 64),
		strconv.FormatFloat(rec.MonomerArea, 'g', 8, 64),
		standard,
		strconv.FormatFloat(rec.Ratio, 'g', 8, 64),
		conversion,
		strconv.FormatBool(rec.Success),
		rec.SpectrumFilename,
	}
}

// atomicWrite writes via a temp file and rename.
func atomicWrite(path string, fill func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".summary-*")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

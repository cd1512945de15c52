package export

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/OpenPSG/edf"

	"github.com/mtiwari1/exgstream/internal/sample"
)

// maxRecordSamples keeps a data record within the 61440-byte EDF limit.
const maxRecordSamples = 61440 / 2

// EDFOptions describe the recording being exported.
type EDFOptions struct {
	RecordingID  string
	PatientID    string
	StartTime    time.Time
	SamplingRate int
	Selected     []int
}

// WriteEDF writes rows as one EDF signal per selected channel. Each data
// record holds one second of samples; the last record is padded with zeros.
// Channels a row does not carry are written as zero.
func WriteEDF(w io.WriteSeeker, rows []sample.Row, opts EDFOptions) error {
	selected := NormalizeChannels(opts.Selected)
	if len(selected) == 0 {
		return errors.New("edf export: no channels selected")
	}
	if opts.SamplingRate <= 0 {
		return fmt.Errorf("edf export: invalid sampling rate %d", opts.SamplingRate)
	}

	// The header stores the record duration in whole seconds.
	perRecord := opts.SamplingRate
	if perRecord*len(selected) > maxRecordSamples {
		return fmt.Errorf("edf export: %d channels at %d Hz exceed the data record limit", len(selected), perRecord)
	}

	signals := make([]edf.SignalHeader, len(selected))
	for i, c := range selected {
		signals[i] = edf.SignalHeader{
			Label:             "Channel" + strconv.Itoa(c),
			TransducerType:    "ExG electrode",
			PhysicalDimension: "ADC",
			PhysicalMin:       math.MinInt16,
			PhysicalMax:       math.MaxInt16,
			DigitalMin:        math.MinInt16,
			DigitalMax:        math.MaxInt16,
			SamplesPerRecord:  perRecord,
		}
	}

	start := opts.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	ew, err := edf.Create(w, edf.Header{
		Version:            edf.Version0,
		PatientID:          opts.PatientID,
		RecordingID:        opts.RecordingID,
		StartTime:          start,
		DataRecordDuration: time.Second,
		SignalCount:        len(signals),
		Signals:            signals,
	})
	if err != nil {
		return fmt.Errorf("edf export: %w", err)
	}

	record := make([][]float64, len(selected))
	for i := range record {
		record[i] = make([]float64, perRecord)
	}

	var pos int
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		for i, c := range selected {
			v, _ := row.Channel(c)
			record[i][pos] = float64(v)
		}
		pos++
		if pos == perRecord {
			if err := ew.WriteRecord(record); err != nil {
				return fmt.Errorf("edf export: %w", err)
			}
			pos = 0
		}
	}
	if pos > 0 {
		for i := range record {
			clear(record[i][pos:])
		}
		if err := ew.WriteRecord(record); err != nil {
			return fmt.Errorf("edf export: %w", err)
		}
	}

	if err := ew.Close(); err != nil {
		return fmt.Errorf("edf export: %w", err)
	}
	return nil
}

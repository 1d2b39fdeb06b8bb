// Package parser decodes raw trade rows from Bybit daily archive CSV files
// into ticks. The archives are header-driven: futures and spot files share the
// timestamp and price columns but name the quantity column differently (size
// vs volume), and some symbols report epoch milliseconds instead of seconds.
package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/tickdata/go-bybit-ohlcv/internal/errors"
	"github.com/tickdata/go-bybit-ohlcv/internal/models"
)

// Timestamps above this value are interpreted as epoch milliseconds.
const millisecondThreshold = 1e10

// TickReader streams ticks from one decompressed archive CSV. It resolves the
// column layout from the header row and yields one tick per data row. Rows
// that cannot be decoded yield a MalformedRecordError; the stream remains
// usable afterwards so the caller can count and continue.
type TickReader struct {
	csv      *csv.Reader
	tsCol    int
	priceCol int
	sizeCol  int
	line     int
}

// NewTickReader reads the header row from r and resolves the required
// columns. It fails when the header lacks a timestamp, price, or quantity
// column, since no row of such a file can ever parse.
func NewTickReader(r io.Reader) (*TickReader, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read archive header: %w", err)
	}

	tr := &TickReader{csv: cr, tsCol: -1, priceCol: -1, sizeCol: -1, line: 1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "timestamp":
			tr.tsCol = i
		case "price":
			tr.priceCol = i
		case "size":
			tr.sizeCol = i
		case "volume":
			// size takes precedence when a file carries both
			if tr.sizeCol == -1 {
				tr.sizeCol = i
			}
		}
	}

	if tr.tsCol == -1 || tr.priceCol == -1 || tr.sizeCol == -1 {
		return nil, fmt.Errorf("archive header missing required columns (timestamp, price, size/volume): %v", header)
	}
	return tr, nil
}

// Next returns the next tick. It returns io.EOF at the end of the stream and
// *apperrors.MalformedRecordError for undecodable rows.
func (tr *TickReader) Next() (models.Tick, error) {
	record, err := tr.csv.Read()
	if err == io.EOF {
		return models.Tick{}, io.EOF
	}
	tr.line++
	if err != nil {
		return models.Tick{}, &apperrors.MalformedRecordError{Line: tr.line, Reason: err.Error()}
	}

	maxCol := tr.tsCol
	if tr.priceCol > maxCol {
		maxCol = tr.priceCol
	}
	if tr.sizeCol > maxCol {
		maxCol = tr.sizeCol
	}
	if len(record) <= maxCol {
		return models.Tick{}, &apperrors.MalformedRecordError{Line: tr.line, Reason: fmt.Sprintf("row has %d fields, need at least %d", len(record), maxCol+1)}
	}

	ts, err := parseTimestamp(record[tr.tsCol])
	if err != nil {
		return models.Tick{}, &apperrors.MalformedRecordError{Line: tr.line, Reason: fmt.Sprintf("invalid timestamp %q", record[tr.tsCol])}
	}

	price, err := decimal.NewFromString(strings.TrimSpace(record[tr.priceCol]))
	if err != nil || price.LessThanOrEqual(decimal.Zero) {
		return models.Tick{}, &apperrors.MalformedRecordError{Line: tr.line, Reason: fmt.Sprintf("invalid price %q", record[tr.priceCol])}
	}

	size, err := decimal.NewFromString(strings.TrimSpace(record[tr.sizeCol]))
	if err != nil || size.IsNegative() {
		return models.Tick{}, &apperrors.MalformedRecordError{Line: tr.line, Reason: fmt.Sprintf("invalid size %q", record[tr.sizeCol])}
	}

	return models.Tick{Timestamp: ts, Price: price, Size: size}, nil
}

// Line returns the current 1-based line number, header included.
func (tr *TickReader) Line() int {
	return tr.line
}

// parseTimestamp decodes an epoch timestamp with optional fractional seconds.
// Values above 1e10 are treated as milliseconds. The value is fixed-point:
// the integer and fraction parts are parsed separately so that a fraction
// like .123 maps to exactly 123ms, which float64 cannot represent at this
// magnitude.
func parseTimestamp(raw string) (time.Time, error) {
	intPart, fracPart, _ := strings.Cut(strings.TrimSpace(raw), ".")

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if whole <= 0 {
		return time.Time{}, fmt.Errorf("non-positive timestamp %q", raw)
	}

	nanos, err := fracNanos(fracPart)
	if err != nil {
		return time.Time{}, err
	}

	if whole > millisecondThreshold {
		// Milliseconds: the whole part carries ms, the fraction sub-ms.
		sec := whole / 1000
		nanos = (whole%1000)*1e6 + nanos/1000
		return time.Unix(sec, nanos).UTC(), nil
	}
	return time.Unix(whole, nanos).UTC(), nil
}

// fracNanos converts fraction digits to nanoseconds. Digits beyond
// nanosecond precision are truncated.
func fracNanos(digits string) (int64, error) {
	if digits == "" {
		return 0, nil
	}
	if len(digits) > 9 {
		digits = digits[:9]
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid fractional seconds %q", digits)
	}
	for i := len(digits); i < 9; i++ {
		n *= 10
	}
	return n, nil
}

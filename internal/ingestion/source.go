package ingestion

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"
)

// DefaultBatchSize bounds the number of rows held in memory per batch.
const DefaultBatchSize = 100

// rawValues reads stored cell values so that number formats such as
// currency or thousands separators do not leak into the parsed text.
var rawValues = excelize.Options{RawCellValue: true}

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrNoSheets is returned for workbooks without any worksheet.
	ErrNoSheets = errors.New("excel file has no sheets")
	// ErrNoHeader is returned when the sheet has no non-empty row to use as header.
	ErrNoHeader = errors.New("header row could not be detected")
	// ErrMissingHeader is returned when required columns are absent from the header.
	ErrMissingHeader = errors.New("missing required header")
)

// SourceOptions configures a RowSource.
type SourceOptions struct {
	BatchSize int
	// Sheet selects a worksheet by name; the first sheet is used when empty.
	Sheet string
}

// RowSource streams fixed-size batches of rows from a single worksheet.
// It is single-pass: once exhausted, Next keeps returning io.EOF.
type RowSource struct {
	file      *excelize.File
	rows      *excelize.Rows
	header    headerMap
	batchSize int
	rowNumber int
	done      bool

	closeOnce sync.Once
	closeErr  error
}

// ValidateFileName rejects anything that is not an .xlsx workbook.
func ValidateFileName(name string) error {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".xlsx" {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return nil
}

// OpenRowSource opens the workbook at path and reads its header row.
func OpenRowSource(path string, opts SourceOptions) (*RowSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	return newRowSource(f, opts)
}

// NewRowSource reads a workbook from r. The workbook archive is buffered by excelize,
// worksheet rows are still decoded lazily.
func NewRowSource(r io.Reader, opts SourceOptions) (*RowSource, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	return newRowSource(f, opts)
}

func newRowSource(f *excelize.File, opts SourceOptions) (*RowSource, error) {
	source := &RowSource{file: f, batchSize: opts.BatchSize}
	if source.batchSize <= 0 {
		source.batchSize = DefaultBatchSize
	}

	if err := source.init(opts.Sheet); err != nil {
		_ = source.Close()
		return nil, err
	}
	return source, nil
}

func (s *RowSource) init(sheet string) error {
	if sheet == "" {
		sheets := s.file.GetSheetList()
		if len(sheets) == 0 {
			return ErrNoSheets
		}
		sheet = sheets[0]
	}

	rows, err := s.file.Rows(sheet)
	if err != nil {
		return fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	s.rows = rows

	for s.rows.Next() {
		s.rowNumber++
		cells, err := s.rows.Columns(rawValues)
		if err != nil {
			return fmt.Errorf("failed to read header row: %w", err)
		}
		if isBlankRow(cells) {
			continue
		}

		s.header = newHeaderMap(cells)
		if missing := s.header.missing(RequiredColumns); len(missing) > 0 {
			return fmt.Errorf("%w: %s", ErrMissingHeader, strings.Join(missing, ", "))
		}
		return nil
	}

	if err := s.rows.Error(); err != nil {
		return fmt.Errorf("failed to read header row: %w", err)
	}
	return ErrNoHeader
}

// Next returns the next batch in file order. Blank rows are skipped but still advance
// the row number. It returns io.EOF once the sheet is exhausted, releasing the file.
func (s *RowSource) Next() ([]Row, error) {
	if s.done {
		return nil, io.EOF
	}

	batch := make([]Row, 0, s.batchSize)
	for len(batch) < s.batchSize {
		if !s.rows.Next() {
			if err := s.rows.Error(); err != nil {
				_ = s.Close()
				return nil, fmt.Errorf("failed to read row %d: %w", s.rowNumber+1, err)
			}
			s.done = true
			_ = s.Close()
			break
		}

		s.rowNumber++
		cells, err := s.rows.Columns(rawValues)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to read row %d: %w", s.rowNumber, err)
		}
		if isBlankRow(cells) {
			continue
		}
		batch = append(batch, s.header.row(s.rowNumber, cells))
	}

	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

// Close releases the worksheet iterator and the workbook. It is safe to call more than once.
func (s *RowSource) Close() error {
	s.closeOnce.Do(func() {
		s.done = true
		var errs []error
		if s.rows != nil {
			errs = append(errs, s.rows.Close())
		}
		if s.file != nil {
			errs = append(errs, s.file.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func isBlankRow(cells []string) bool {
	for _, cell := range cells {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

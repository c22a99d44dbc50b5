package ingestion

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/feedimport/internal/domain"
	"github.com/rpattn/feedimport/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/xuri/excelize/v2"
)

// writeWorkbook stores records (header first) in a fresh workbook and returns its path.
func writeWorkbook(t *testing.T, records [][]string) string {
	t.Helper()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	for idx, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, idx+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		values := make([]any, len(record))
		for i, value := range record {
			values[i] = value
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			t.Fatalf("write row %d: %v", idx+1, err)
		}
	}

	path := filepath.Join(t.TempDir(), "feed.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return path
}

// feedRecord returns a complete, valid data row in feed column order with overrides applied.
func feedRecord(sku string, overrides map[Column]string) []string {
	values := map[Column]string{
		ColumnID:                    sku,
		ColumnTitle:                 "Product " + sku,
		ColumnImageLink:             "https://example.com/" + sku + ".jpg",
		ColumnDescription:           "Description of " + sku,
		ColumnLink:                  "https://example.com/p/" + sku,
		ColumnPrice:                 "100.00 USD",
		ColumnSalePrice:             "80.00 USD",
		ColumnItemGroupID:           "group-1",
		ColumnAvailability:          "in stock",
		ColumnBrand:                 "Acme",
		ColumnGTIN:                  "0001234567890",
		ColumnGender:                "unisex",
		ColumnGoogleProductCategory: "Apparel",
		ColumnProductType:           "Shirts",
		ColumnMaterial:              "cotton",
		ColumnPattern:               "solid",
		ColumnColor:                 "blue",
		ColumnSize:                  "M",
		ColumnModel:                 "M-1",
		ColumnCondition:             "new",
	}
	for column, value := range overrides {
		values[column] = value
	}

	record := make([]string, columnCount)
	for column := Column(0); column < columnCount; column++ {
		record[column] = values[column]
	}
	return record
}

func feedWorkbook(t *testing.T, rows ...[]string) string {
	t.Helper()
	return writeWorkbook(t, append([][]string{ColumnNames()}, rows...))
}

type stubJobRepo struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]domain.ImportJob
	progress    []domain.ImportCounts
	claimErr    error
	progressErr error
	failCalls   int
}

func newStubJobRepo(jobs ...domain.ImportJob) *stubJobRepo {
	repo := &stubJobRepo{jobs: map[uuid.UUID]domain.ImportJob{}}
	for _, job := range jobs {
		repo.jobs[job.ID] = job
	}
	return repo
}

func (s *stubJobRepo) Create(ctx context.Context, job domain.ImportJob) (domain.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return job, nil
}

func (s *stubJobRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ImportJob{}, repository.ErrNotFound
	}
	return job, nil
}

func (s *stubJobRepo) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.ImportJob, error) {
	return nil, errors.New("not implemented")
}

func (s *stubJobRepo) Claim(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return domain.ImportJob{}, s.claimErr
	}
	job, ok := s.jobs[id]
	if !ok {
		return domain.ImportJob{}, fmt.Errorf("import job %s: %w", id, repository.ErrJobNotClaimable)
	}
	claimed, err := job.Transition(domain.JobStatusProcessing, time.Now())
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("import job %s: %w", id, repository.ErrJobNotClaimable)
	}
	s.jobs[id] = claimed
	return claimed, nil
}

func (s *stubJobRepo) UpdateProgress(ctx context.Context, id uuid.UUID, counts domain.ImportCounts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progressErr != nil {
		return s.progressErr
	}
	job := s.jobs[id]
	if job.Status != domain.JobStatusProcessing {
		return repository.ErrJobNotProcessing
	}
	job.ImportCounts = counts
	s.jobs[id] = job
	s.progress = append(s.progress, counts)
	return nil
}

func (s *stubJobRepo) Complete(ctx context.Context, id uuid.UUID, counts domain.ImportCounts) (domain.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.jobs[id].Transition(domain.JobStatusCompleted, time.Now())
	if err != nil {
		return domain.ImportJob{}, repository.ErrJobNotProcessing
	}
	job.ImportCounts = counts
	s.jobs[id] = job
	return job, nil
}

func (s *stubJobRepo) Fail(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCalls++
	if job, err := s.jobs[id].Transition(domain.JobStatusFailed, time.Now()); err == nil {
		s.jobs[id] = job
	}
	return nil
}

func (s *stubJobRepo) job(id uuid.UUID) domain.ImportJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

type stubLogRepo struct {
	entries   []domain.ImportLog
	appendErr error
}

func (s *stubLogRepo) Append(ctx context.Context, entries ...domain.ImportLog) error {
	if s.appendErr != nil && len(entries) > 0 {
		return s.appendErr
	}
	for _, entry := range entries {
		entry.ID = int64(len(s.entries) + 1)
		s.entries = append(s.entries, entry)
	}
	return nil
}

func (s *stubLogRepo) List(ctx context.Context, jobID uuid.UUID, limit int, offset int) ([]domain.ImportLog, error) {
	return s.entries, nil
}

func (s *stubLogRepo) Count(ctx context.Context, jobID uuid.UUID) (int, error) {
	return len(s.entries), nil
}

func (s *stubLogRepo) messages(kind domain.LogKind) []string {
	var out []string
	for _, entry := range s.entries {
		if entry.Kind == kind {
			out = append(out, entry.Message)
		}
	}
	return out
}

// fingerprint renders entries as sorted "row:kind:message" strings for order-independent comparison.
func (s *stubLogRepo) fingerprint() []string {
	out := make([]string, 0, len(s.entries))
	for _, entry := range s.entries {
		row := 0
		if entry.RowNumber != nil {
			row = *entry.RowNumber
		}
		out = append(out, fmt.Sprintf("%d:%s:%s", row, entry.Kind, entry.Message))
	}
	sort.Strings(out)
	return out
}

type stubProductRepo struct {
	products map[string]domain.Product
	writes   int
	failSKU  map[string]error
}

func newStubProductRepo() *stubProductRepo {
	return &stubProductRepo{products: map[string]domain.Product{}, failSKU: map[string]error{}}
}

func (s *stubProductRepo) UpsertBySKU(ctx context.Context, q repository.DBTX, product domain.Product) (domain.Product, bool, error) {
	if err := s.failSKU[product.SKU]; err != nil {
		return domain.Product{}, false, err
	}
	s.writes++
	existing, found := s.products[product.SKU]
	if found {
		product.ID = existing.ID
	} else if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	s.products[product.SKU] = product
	return product, !found, nil
}

func (s *stubProductRepo) GetBySKU(ctx context.Context, sku string) (domain.Product, error) {
	product, ok := s.products[sku]
	if !ok {
		return domain.Product{}, repository.ErrNotFound
	}
	return product, nil
}

type fakeTxRunner struct {
	begun      int
	committed  int
	rolledBack int
	beginErr   error
}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if f.beginErr != nil {
		return fmt.Errorf("failed to begin transaction: %w", f.beginErr)
	}
	f.begun++
	if err := fn(nil); err != nil {
		f.rolledBack++
		return err
	}
	f.committed++
	return nil
}

// Command sales-import bulk-loads historical per-branch sales exports.
//
// Each export is a gzip-compressed file of one sale per line:
//
//	receipt,total,method,timestamp
//
// e.g. "R-20260114-0042,115.00,cash,2026-01-14T10:32:00Z". The branch is
// taken from the file name (salesexport-<branch>.gz). Receipts appearing in
// two or more branch exports were double-posted by the legacy till software;
// they are flagged and skipped, never loaded.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/tillworks/till/internal/domain/money"
	"github.com/tillworks/till/internal/domain/payment"
	"github.com/tillworks/till/internal/repository"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 1_000_000
)

const insertImportedSaleSQL = `INSERT INTO sales
	(id, branch_ref, items, total, currency, payment_status, created_at)
	VALUES ($1, $2, '[]', $3, $4, 'paid', $5)
	ON CONFLICT (id) DO NOTHING`

const insertImportedAllocationSQL = `INSERT INTO sale_allocations
	(sale_ref, position, method, amount, currency)
	VALUES ($1, 0, $2, $3, $4)
	ON CONFLICT (sale_ref, position) DO NOTHING`

// saleRow is one parsed export line.
type saleRow struct {
	receipt   string
	total     money.Money
	method    payment.Method
	createdAt time.Time
}

func main() {
	var (
		dataDir     string
		databaseURL string
		currency    string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing salesexport-<branch>.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&currency, "currency", "ZAR", "currency of the exported amounts")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, currency); err != nil {
		slog.Error("sales import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("sales import completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL, currency string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "salesexport-*.gz"))
	if err != nil {
		return errors.Wrap(err, "glob exports")
	}
	if len(files) == 0 {
		return errors.Errorf("no salesexport-*.gz files in %s", dataDir)
	}

	// Pass 1: one bloom filter of receipt numbers per export, concurrently.
	slog.Info("pass 1: building receipt filters", slog.Int("files", len(files)))

	filters, err := buildReceiptFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build receipt filters")
	}

	// Pass 2: receipts appearing in 2+ exports are double-posted.
	slog.Info("pass 2: finding double-posted receipts")

	doublePosted, err := findDoublePosted(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "find double-posted receipts")
	}

	for receipt := range doublePosted {
		slog.Warn("double-posted receipt skipped", slog.String("receipt", receipt))
	}
	slog.Info("double-posted receipts", slog.Int("count", len(doublePosted)))

	// Pass 3: load clean rows.
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	for _, f := range files {
		if err := loadCleanRows(ctx, pool, f, currency, doublePosted); err != nil {
			return errors.Wrapf(err, "load %s", f)
		}
	}

	return nil
}

// branchOf extracts the branch reference from an export file name.
func branchOf(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), ".gz")
	return strings.TrimPrefix(name, "salesexport-")
}

// buildReceiptFilters creates one bloom filter per export, concurrently.
func buildReceiptFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(buildFilterForFile(ctx, i, f, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func buildFilterForFile(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var count uint64

		if err := streamGzFile(ctx, path, func(line string) {
			receipt, ok := receiptOf(line)
			if !ok {
				return
			}
			filter.AddString(receipt)
			count++
			if count%progressEvery == 0 {
				slog.Info("pass 1 progress",
					slog.String("branch", branchOf(path)),
					slog.Uint64("receipts", count),
				)
			}
		}); err != nil {
			return errors.Wrapf(err, "build filter for %s", path)
		}

		slog.Info("pass 1 complete",
			slog.String("branch", branchOf(path)),
			slog.Uint64("total_receipts", count),
		)

		filters[idx] = filter
		return nil
	}
}

// findDoublePosted re-streams each export and checks receipts against the
// OTHER exports' bloom filters. A receipt in 2 or more exports is
// double-posted. Bloom hits are probabilistic, so candidates are confirmed by
// counting distinct files per receipt.
func findDoublePosted(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]struct{}, error) {
	results := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(findCandidatesInFile(ctx, i, f, filters, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, candidates := range results {
		for receipt, mask := range candidates {
			merged[receipt] |= mask
		}
	}

	doublePosted := make(map[string]struct{})
	for receipt, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			doublePosted[receipt] = struct{}{}
		}
	}

	return doublePosted, nil
}

func findCandidatesInFile(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	results []map[string]uint,
) func() error {
	return func() error {
		candidates := make(map[string]uint)
		fileBit := uint(1) << uint(idx)

		if err := streamGzFile(ctx, path, func(line string) {
			receipt, ok := receiptOf(line)
			if !ok {
				return
			}
			for j, f := range filters {
				if j == idx {
					continue
				}
				if f.TestString(receipt) {
					candidates[receipt] |= fileBit
					break
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "scan %s for candidates", path)
		}

		slog.Info("pass 2 complete",
			slog.String("branch", branchOf(path)),
			slog.Int("candidates", len(candidates)),
		)

		results[idx] = candidates
		return nil
	}
}

// loadCleanRows streams one export and inserts every row whose receipt is not
// double-posted.
func loadCleanRows(ctx context.Context, pool *pgxpool.Pool, path, currency string, doublePosted map[string]struct{}) error {
	branch := branchOf(path)
	var loaded, skipped uint64

	err := streamGzFile(ctx, path, func(line string) {
		row, err := parseLine(line, currency)
		if err != nil {
			slog.Warn("bad export line skipped",
				slog.String("branch", branch),
				slog.String("error", err.Error()),
			)
			return
		}
		if _, dup := doublePosted[row.receipt]; dup {
			skipped++
			return
		}

		if _, err := pool.Exec(ctx, insertImportedSaleSQL,
			row.receipt, branch, row.total.Amount, row.total.Currency, row.createdAt,
		); err != nil {
			slog.Warn("insert failed",
				slog.String("receipt", row.receipt),
				slog.String("error", err.Error()),
			)
			return
		}
		if _, err := pool.Exec(ctx, insertImportedAllocationSQL,
			row.receipt, string(row.method), row.total.Amount, row.total.Currency,
		); err != nil {
			slog.Warn("allocation insert failed",
				slog.String("receipt", row.receipt),
				slog.String("error", err.Error()),
			)
			return
		}
		loaded++
	})
	if err != nil {
		return err
	}

	slog.Info("loaded export",
		slog.String("branch", branch),
		slog.Uint64("loaded", loaded),
		slog.Uint64("double_posted_skipped", skipped),
	)
	return nil
}

// receiptOf returns the receipt field of an export line.
func receiptOf(line string) (string, bool) {
	receipt, _, ok := strings.Cut(line, ",")
	if !ok || receipt == "" {
		return "", false
	}
	return receipt, true
}

func parseLine(line, currency string) (saleRow, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 4 {
		return saleRow{}, errors.Errorf("expected 4 fields, got %d", len(parts))
	}

	total, err := money.Parse(parts[1], currency)
	if err != nil {
		return saleRow{}, errors.Wrapf(err, "receipt %s", parts[0])
	}

	method := payment.Method(parts[2])
	if !method.Valid() {
		return saleRow{}, errors.Errorf("receipt %s: unknown method %q", parts[0], parts[2])
	}

	createdAt, err := time.Parse(time.RFC3339, parts[3])
	if err != nil {
		return saleRow{}, errors.Wrapf(err, "receipt %s", parts[0])
	}

	return saleRow{
		receipt:   parts[0],
		total:     total,
		method:    method,
		createdAt: createdAt,
	}, nil
}

// streamGzFile reads a gzip file line by line, calling fn for each non-empty
// line. Decompression uses pgzip for parallel inflate on large exports.
func streamGzFile(ctx context.Context, path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open file")
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "create gzip reader")
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var lines uint64
	for scanner.Scan() {
		lines++
		if lines%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fn(line)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "scan file")
	}

	return nil
}

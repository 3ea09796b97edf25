// Package export writes a year of orders to compressed JSONL files, one per
// month, and summarizes them into a monthly report.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-orders/internal/domain/order"
)

const (
	defaultWorkers      = 4
	defaultCustomerCap  = 1_000_000
	defaultCustomersFPR = 0.001
)

// Row is one order/item pair of the flattened order projection, with the
// owning user. Orders without items have empty item fields.
type Row struct {
	order.HistoryRow
	UserID string
}

// Source streams the rows of one calendar month (UTC), grouped by order.
type Source interface {
	StreamMonth(ctx context.Context, year, month int, fn func(Row) error) error
}

// MonthStats summarizes one month of orders.
type MonthStats struct {
	Month  int
	Orders int
	Items  int
	// Revenue counts completed orders only.
	Revenue decimal.Decimal
	// Customers is a bloom filter estimate of distinct users.
	Customers uint32
}

// Report is the result of a yearly export.
type Report struct {
	Year      int
	Months    []MonthStats
	Orders    int
	Revenue   decimal.Decimal
	Customers uint32
	Files     []string
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithWorkers limits how many months are exported concurrently.
func WithWorkers(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithCustomerEstimate sizes the distinct customer bloom filters.
func WithCustomerEstimate(capacity uint, fpr float64) Option {
	return func(e *Exporter) {
		e.customerCap = capacity
		e.customerFPR = fpr
	}
}

// Exporter writes orders-YYYY-MM.jsonl.gz files into a directory.
type Exporter struct {
	src         Source
	dir         string
	workers     int
	customerCap uint
	customerFPR float64
}

// NewExporter creates an Exporter reading from src and writing into dir.
func NewExporter(src Source, dir string, opts ...Option) *Exporter {
	e := &Exporter{
		src:         src,
		dir:         dir,
		workers:     defaultWorkers,
		customerCap: defaultCustomerCap,
		customerFPR: defaultCustomersFPR,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type monthResult struct {
	stats     MonthStats
	customers *bloom.BloomFilter
	path      string
}

// Export writes all twelve months of year concurrently and returns the
// combined report. Months are always reported in calendar order.
func (e *Exporter) Export(ctx context.Context, year int) (*Report, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output dir")
	}

	results := make([]monthResult, 12)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range results {
		g.Go(func() error {
			res, err := e.exportMonth(gCtx, year, i+1)
			if err != nil {
				return errors.Wrapf(err, "export %04d-%02d", year, i+1)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Year: year, Revenue: decimal.Zero}
	customers := bloom.NewWithEstimates(e.customerCap, e.customerFPR)
	for _, res := range results {
		if err := customers.Merge(res.customers); err != nil {
			return nil, errors.Wrap(err, "merge customer filters")
		}
		report.Months = append(report.Months, res.stats)
		report.Orders += res.stats.Orders
		report.Revenue = report.Revenue.Add(res.stats.Revenue)
		report.Files = append(report.Files, res.path)
	}
	report.Customers = customers.ApproximatedSize()
	return report, nil
}

func (e *Exporter) exportMonth(ctx context.Context, year, month int) (res monthResult, err error) {
	lg := zctx.From(ctx)
	start := time.Now()

	res.path = filepath.Join(e.dir, fmt.Sprintf("orders-%04d-%02d.jsonl.gz", year, month))
	res.customers = bloom.NewWithEstimates(e.customerCap, e.customerFPR)
	res.stats = MonthStats{Month: month, Revenue: decimal.Zero}

	f, err := os.Create(res.path)
	if err != nil {
		return res, errors.Wrap(err, "create file")
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "close file")
		}
	}()

	gz := pgzip.NewWriter(f)
	var (
		enc       jx.Encoder
		lastOrder string
	)
	err = e.src.StreamMonth(ctx, year, month, func(row Row) error {
		if row.OrderID != lastOrder {
			lastOrder = row.OrderID
			res.stats.Orders++
			if row.Status == order.StatusCompleted {
				res.stats.Revenue = res.stats.Revenue.Add(row.Total)
			}
			res.customers.AddString(row.UserID)
		}
		if row.ItemID != "" {
			res.stats.Items += row.Quantity
		}

		enc.Reset()
		encodeRow(&enc, row)
		_, err := gz.Write(append(enc.Bytes(), '\n'))
		return err
	})
	if err != nil {
		_ = gz.Close()
		return res, errors.Wrap(err, "stream rows")
	}
	if err := gz.Close(); err != nil {
		return res, errors.Wrap(err, "flush gzip")
	}

	res.stats.Customers = res.customers.ApproximatedSize()
	lg.Info("Exported month",
		zap.Int("year", year),
		zap.Int("month", month),
		zap.Int("orders", res.stats.Orders),
		zap.String("file", res.path),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}

func encodeRow(e *jx.Encoder, r Row) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_id", func(e *jx.Encoder) { e.Str(r.OrderID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Str(r.UserID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(r.Status)) })
		e.Field("total", func(e *jx.Encoder) { e.Num(jx.Num(r.Total.StringFixed(2))) })
		e.Field("customer_address", func(e *jx.Encoder) { e.Str(r.Address) })
		e.Field("created_at", func(e *jx.Encoder) { e.Str(r.CreatedAt.UTC().Format(time.RFC3339)) })
		if r.ItemID == "" {
			return
		}
		e.Field("item_id", func(e *jx.Encoder) { e.Str(r.ItemID) })
		e.Field("product_id", func(e *jx.Encoder) { e.Str(r.ProductID) })
		e.Field("product_name", func(e *jx.Encoder) { e.Str(r.ProductName) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(r.Quantity) })
		e.Field("price", func(e *jx.Encoder) { e.Num(jx.Num(r.Price.String())) })
	})
}

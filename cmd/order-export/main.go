package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/export"
	"github.com/xenking/kart-orders/internal/repository"
)

type options struct {
	databaseURL string
	year        int
	outDir      string
	workers     int
	bucket      string
	prefix      string
	region      string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.year, "year", time.Now().Year(), "calendar year to export")
	flag.StringVar(&opts.outDir, "out", "export", "output directory")
	flag.IntVar(&opts.workers, "workers", 4, "months exported concurrently")
	flag.StringVar(&opts.bucket, "s3-bucket", "", "upload the export to this bucket, empty keeps it local")
	flag.StringVar(&opts.prefix, "s3-prefix", "orders", "key prefix inside the bucket")
	flag.StringVar(&opts.region, "s3-region", "", "AWS region (default from the environment)")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Order export failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	pool, err := repository.NewPool(ctx, opts.databaseURL, int32(opts.workers)+1)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	exporter := export.NewExporter(repository.NewExportRepository(pool), opts.outDir,
		export.WithWorkers(opts.workers),
	)
	report, err := exporter.Export(ctx, opts.year)
	if err != nil {
		return errors.Wrap(err, "export orders")
	}

	workbook := filepath.Join(opts.outDir, fmt.Sprintf("report-%04d.xlsx", opts.year))
	if err := export.WriteWorkbook(workbook, report); err != nil {
		return errors.Wrap(err, "write report")
	}
	lg.Info("Export finished",
		zap.Int("year", report.Year),
		zap.Int("orders", report.Orders),
		zap.String("revenue", report.Revenue.StringFixed(2)),
		zap.Uint32("customers_estimate", report.Customers),
		zap.String("report", workbook),
	)

	if opts.bucket == "" {
		return nil
	}
	var loadOpts []func(*config.LoadOptions) error
	if opts.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return errors.Wrap(err, "load aws config")
	}
	files := append(report.Files, workbook)
	prefix := fmt.Sprintf("%s/%04d", opts.prefix, opts.year)
	if err := export.Upload(ctx, s3.NewFromConfig(awsCfg), opts.bucket, prefix, files); err != nil {
		return errors.Wrap(err, "upload export")
	}
	return nil
}

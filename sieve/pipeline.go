// sieve/pipeline.go

// Package sieve runs the batch filter: it loads the input table, checks each
// address, and appends surviving rows to the output in batches.
package sieve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dalemusser/mailsieve/logging"
	"github.com/dalemusser/mailsieve/metrics"
	"github.com/dalemusser/mailsieve/pantry/export"
	"go.uber.org/zap"
)

var (
	// ErrMissingColumn means the input has no column with the configured e-mail header.
	ErrMissingColumn = errors.New("sieve: e-mail column not found")

	// ErrInputNotFound means the input path does not exist.
	ErrInputNotFound = errors.New("sieve: input file not found")
)

// DefaultEmailColumn is the header of the address column.
const DefaultEmailColumn = "correio_eletronico"

// DefaultMaxBatches bounds the number of progress units per run.
const DefaultMaxBatches = 50

// Sink receives kept rows batch by batch.
type Sink interface {
	Append(headers []string, rows [][]string) error
	Close() error
}

// OpenSink picks the output format from the path: ".csv" gets a delimited
// file, anything else an xlsx workbook.
func OpenSink(path, sheet string, delimiter rune) (Sink, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		a, err := export.OpenCSV(path, delimiter)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	w, err := export.OpenWorkbook(path, sheet)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Options configures a Pipeline. Resolver is required.
type Options struct {
	EmailColumn   string
	MaxBatches    int
	UnwantedTerms []string
	Delimiter     rune
	SheetName     string

	Resolver DomainResolver
	Metrics  *metrics.Sieve
	Logger   *zap.Logger
}

// Pipeline filters tables. It holds no per-run state beyond what its
// resolver caches, so one Pipeline serves a single run.
type Pipeline struct {
	column     string
	maxBatches int
	terms      []string
	delimiter  rune
	sheet      string

	resolver DomainResolver
	metrics  *metrics.Sieve
	logger   *zap.Logger
}

// Summary describes a finished (or interrupted) run.
type Summary struct {
	Total    int
	Accepted int
	Rejected map[string]int // by outcome
	Batches  int            // planned
	Written  int            // batches appended to the output
	Output   string
}

// New validates opts and fills defaults.
func New(opts Options) (*Pipeline, error) {
	if opts.Resolver == nil {
		return nil, errors.New("sieve: resolver is required")
	}
	p := &Pipeline{
		column:     opts.EmailColumn,
		maxBatches: opts.MaxBatches,
		terms:      opts.UnwantedTerms,
		delimiter:  opts.Delimiter,
		sheet:      opts.SheetName,
		resolver:   opts.Resolver,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
	if p.column == "" {
		p.column = DefaultEmailColumn
	}
	if p.maxBatches < 1 {
		p.maxBatches = DefaultMaxBatches
	}
	if p.delimiter == 0 {
		p.delimiter = ';'
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p, nil
}

// ProcessFile filters inputPath into outputPath. Input errors are returned
// before the output is touched. On a write error or cancellation the batches
// already written stay on disk and the partial summary is returned with the
// error.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) (Summary, error) {
	sum := Summary{Output: outputPath, Rejected: map[string]int{}}

	tbl, err := export.ReadTableFile(inputPath, p.delimiter)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return sum, fmt.Errorf("%w: %s", ErrInputNotFound, inputPath)
		}
		return sum, fmt.Errorf("read %s: %w", inputPath, err)
	}
	if tbl.Column(p.column) < 0 {
		return sum, fmt.Errorf("%w: %q in %s", ErrMissingColumn, p.column, inputPath)
	}

	sink, err := OpenSink(outputPath, p.sheet, p.delimiter)
	if err != nil {
		return sum, fmt.Errorf("open output %s: %w", outputPath, err)
	}

	sum, err = p.Process(ctx, tbl, sink)
	sum.Output = outputPath
	if cerr := sink.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close output %s: %w", outputPath, cerr)
	}
	return sum, err
}

// Process filters tbl into sink, batch by batch, in record order.
func (p *Pipeline) Process(ctx context.Context, tbl *export.Table, sink Sink) (Summary, error) {
	sum := Summary{Total: tbl.Len(), Rejected: map[string]int{}}

	col := tbl.Column(p.column)
	if col < 0 {
		return sum, fmt.Errorf("%w: %q", ErrMissingColumn, p.column)
	}

	batches := Plan(sum.Total, p.maxBatches)
	sum.Batches = len(batches)
	p.logger.Info("records loaded",
		zap.Int("total", sum.Total),
		zap.Int("batches", len(batches)),
		zap.Int("batch_size", BatchSize(sum.Total, p.maxBatches)))

	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("processing interrupted",
				zap.Int("batch", b.Index+1), zap.Int("written", sum.Written))
			return sum, err
		}

		started := time.Now()
		p.logger.Info("batch started",
			zap.Int("batch", b.Index+1),
			zap.Int("of", len(batches)),
			zap.Int("from", b.Start+1),
			zap.Int("to", b.End),
			zap.Time("started", started))

		kept := p.filterBatch(ctx, tbl.Rows[b.Start:b.End], col, &sum)

		// A cancelled context makes lookups fail fast; such a batch would
		// be judged on bogus results, so it is not written.
		if err := ctx.Err(); err != nil {
			p.logger.Warn("processing interrupted",
				zap.Int("batch", b.Index+1), zap.Int("written", sum.Written))
			return sum, err
		}

		if len(kept) > 0 {
			if err := sink.Append(tbl.Headers, kept); err != nil {
				p.logger.Error("batch write failed",
					zap.Int("batch", b.Index+1), zap.Error(err))
				return sum, fmt.Errorf("write batch %d: %w", b.Index+1, err)
			}
			sum.Written++
			p.metrics.BatchWritten()
		}
		sum.Accepted += len(kept)

		finished := time.Now()
		p.logger.Info("batch finished",
			zap.Int("batch", b.Index+1),
			zap.Int("of", len(batches)),
			zap.Int("accepted", len(kept)),
			zap.Int("checked", b.Len()),
			zap.Time("finished", finished),
			zap.Duration("elapsed", finished.Sub(started)))
	}

	p.logger.Info("processing complete",
		zap.Int("total", sum.Total),
		zap.Int("accepted", sum.Accepted),
		zap.Any("rejected", sum.Rejected),
		zap.Int("batches_written", sum.Written))
	if sum.Accepted == 0 {
		p.logger.Warn("no records accepted; nothing written")
	}
	return sum, nil
}

type verdict struct {
	address string
	outcome string
	domain  string
}

// filterBatch returns copies of the kept rows with their e-mail column
// normalized. Domains are resolved ahead of the sequential pass so lookups
// for one batch run concurrently.
func (p *Pipeline) filterBatch(ctx context.Context, rows [][]string, col int, sum *Summary) [][]string {
	verdicts := make([]verdict, len(rows))
	var domains []string
	for i, row := range rows {
		addr := NormalizeAddress(row[col])
		outcome, domain := precheck(addr, p.terms)
		verdicts[i] = verdict{address: addr, outcome: outcome, domain: domain}
		if outcome == "" {
			domains = append(domains, domain)
		}
	}
	p.resolver.Prefetch(ctx, domains)

	var kept [][]string
	for i, row := range rows {
		v := verdicts[i]
		if v.outcome == "" {
			v.outcome = metrics.OutcomeAccepted
			if !p.resolver.Resolve(ctx, v.domain).Acceptable() {
				v.outcome = metrics.OutcomeUntrustedDomain
			}
		}
		p.metrics.Record(v.outcome)

		if v.outcome != metrics.OutcomeAccepted {
			sum.Rejected[v.outcome]++
			p.logger.Debug("record rejected",
				logging.Email("email", v.address), zap.String("reason", v.outcome))
			continue
		}

		out := make([]string, len(row))
		copy(out, row)
		out[col] = NormalizeColumnValue(out[col])
		kept = append(kept, out)
	}
	return kept
}

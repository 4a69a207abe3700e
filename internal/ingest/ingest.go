// Package ingest turns bulk promo-code dumps into discount definitions.
//
// A dump is a set of gzip files with one code per line. A code is accepted
// when it appears in at least MinFiles of them. Pass 1 builds one bloom
// filter per file; pass 2 re-reads every file and keeps the codes that other
// files' filters claim to contain, then exact-counts the files per code.
package ingest

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"
)

// Options tune code detection.
type Options struct {
	// Capacity is the expected number of codes per file.
	Capacity uint
	// FPRate is the bloom filter false positive rate.
	FPRate float64
	// MinLen and MaxLen bound accepted code lengths.
	MinLen, MaxLen int
	// MinFiles is how many files must contain a code.
	MinFiles int
	// ProgressEvery logs progress every that many codes; 0 disables it.
	ProgressEvery uint64
}

// DefaultOptions match the production code dumps.
func DefaultOptions() Options {
	return Options{
		Capacity:      120_000_000,
		FPRate:        0.001,
		MinLen:        8,
		MaxLen:        10,
		MinFiles:      2,
		ProgressEvery: 10_000_000,
	}
}

func (o Options) accepts(code string) bool {
	return len(code) >= o.MinLen && len(code) <= o.MaxLen
}

// FindCodes returns, sorted, the codes found in at least opts.MinFiles files.
func FindCodes(ctx context.Context, files []string, opts Options) ([]string, error) {
	if len(files) > bits.UintSize {
		return nil, errors.Errorf("at most %d files are supported", bits.UintSize)
	}
	if opts.MinFiles < 1 {
		opts.MinFiles = 1
	}

	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))
	filters, err := buildFilters(ctx, files, opts)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: finding candidate codes")
	masks, err := findCandidates(ctx, files, filters, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find candidates")
	}

	merged := make(map[string]uint)
	for _, m := range masks {
		for code, bit := range m {
			merged[code] |= bit
		}
	}
	var codes []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= opts.MinFiles {
			codes = append(codes, code)
		}
	}
	slices.Sort(codes)
	return codes, nil
}

func buildFilters(ctx context.Context, files []string, opts Options) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(opts.Capacity, opts.FPRate)
			var count uint64
			err := streamGzFile(ctx, path, func(code string) {
				if !opts.accepts(code) {
					return
				}
				filter.AddString(code)
				count++
				if opts.ProgressEvery > 0 && count%opts.ProgressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("file", i+1), slog.Uint64("codes", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}
			slog.Info("pass 1 complete", slog.Int("file", i+1), slog.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findCandidates returns per file the codes that at least MinFiles-1 other
// filters report, each mapped to the file's bit.
func findCandidates(ctx context.Context, files []string, filters []*bloom.BloomFilter, opts Options) ([]map[string]uint, error) {
	results := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			bit := uint(1) << uint(i)
			err := streamGzFile(ctx, path, func(code string) {
				if !opts.accepts(code) {
					return
				}
				others := 0
				for j, f := range filters {
					if j != i && f.TestString(code) {
						others++
					}
				}
				if others+1 >= opts.MinFiles {
					candidates[code] |= bit
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan file %d for candidates", i+1)
			}
			slog.Info("pass 2 complete", slog.Int("file", i+1), slog.Int("candidates", len(candidates)))
			results[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

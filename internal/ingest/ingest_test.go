package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/discount"
)

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Capacity = 1000
	opts.ProgressEvery = 0
	return opts
}

func TestFindCodes(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "couponbase1.gz", "HAPPYHRS", "FIFTYOFF", "ONLYONE1", "SHORT", "WAYTOOLONGCODE"),
		writeGz(t, dir, "couponbase2.gz", "HAPPYHRS", "OVER9000", "ONLYTWO2", "SHORT"),
		writeGz(t, dir, "couponbase3.gz", "FIFTYOFF", "OVER9000", "ONLYTHR3", "WAYTOOLONGCODE"),
	}

	tests := []struct {
		name     string
		minFiles int
		want     []string
	}{
		{name: "two files", minFiles: 2, want: []string{"FIFTYOFF", "HAPPYHRS", "OVER9000"}},
		{name: "all files", minFiles: 3, want: nil},
		{
			name:     "any file",
			minFiles: 1,
			want:     []string{"FIFTYOFF", "HAPPYHRS", "ONLYONE1", "ONLYTHR3", "ONLYTWO2", "OVER9000"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			opts.MinFiles = tt.minFiles
			got, err := FindCodes(context.Background(), files, opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindCodes_Errors(t *testing.T) {
	dir := t.TempDir()
	good := writeGz(t, dir, "good.gz", "HAPPYHRS")

	_, err := FindCodes(context.Background(), []string{good, filepath.Join(dir, "missing.gz")}, testOptions())
	assert.ErrorIs(t, err, os.ErrNotExist)

	plain := filepath.Join(dir, "plain.gz")
	require.NoError(t, os.WriteFile(plain, []byte("HAPPYHRS\n"), 0o600))
	_, err = FindCodes(context.Background(), []string{good, plain}, testOptions())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = FindCodes(ctx, []string{good}, testOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiscounts(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ds := Discounts([]string{"fiftyoff", "OVER9000", "RANDOM01"}, start, 30*24*time.Hour)
	require.Len(t, ds, 3)

	for _, d := range ds {
		require.NoError(t, d.Validate(), d.Code)
		assert.Equal(t, discount.ScopeAllProducts, d.Scope)
		assert.True(t, d.CanBeUsed(start))
		assert.False(t, d.CanBeUsed(start.Add(30*24*time.Hour)))
	}

	fifty := ds[0]
	assert.Equal(t, "FIFTYOFF", fifty.Code)
	assert.Equal(t, "ingest-fiftyoff", fifty.ID)
	assert.Equal(t, "50", fifty.PercentageValue.Decimal.String())
	assert.True(t, fifty.MaximumDiscountAmount.Valid)
	assert.Nil(t, fifty.MaxUsagePerCustomer)

	over := ds[1]
	assert.Equal(t, discount.TypeFixedAmount, over.Type)
	assert.Equal(t, "9000", over.FixedValue.Decimal.String())
	assert.False(t, over.PercentageValue.Valid)

	def := ds[2]
	assert.Equal(t, DefaultRule.Name, def.Name)
	require.NotNil(t, def.MaxUsagePerCustomer)
	assert.Equal(t, 1, *def.MaxUsagePerCustomer)
}

type recordingWriter struct {
	codes  []string
	failOn string
}

func (w *recordingWriter) Upsert(_ context.Context, d *discount.Discount) error {
	if d.Code == w.failOn {
		return errors.New("boom")
	}
	w.codes = append(w.codes, d.Code)
	return nil
}

func TestWrite(t *testing.T) {
	ds := Discounts([]string{"HAPPYHRS", "GNULINUX"}, time.Now(), time.Hour)

	w := &recordingWriter{}
	require.NoError(t, Write(context.Background(), w, ds))
	assert.Equal(t, []string{"HAPPYHRS", "GNULINUX"}, w.codes)

	w = &recordingWriter{failOn: "GNULINUX"}
	err := Write(context.Background(), w, ds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert discount GNULINUX")
	assert.Equal(t, []string{"HAPPYHRS"}, w.codes)
}

package synthetic

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-forecast/internal/adapter/csvfile"
	"github.com/couchcryptid/weather-forecast/internal/domain"
)

func TestGenerate_Deterministic(t *testing.T) {
	a := Generate(DefaultOptions())
	b := Generate(DefaultOptions())
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("series differ (-a +b):\n%s", diff)
	}

	opts := DefaultOptions()
	opts.Seed = 7
	assert.NotEqual(t, a, Generate(opts))
}

func TestGenerate_HourlyAndValid(t *testing.T) {
	obs := Generate(DefaultOptions())
	require.Len(t, obs, 720)
	for i := 1; i < len(obs); i++ {
		assert.Equal(t, time.Hour, obs[i].Timestamp.Sub(obs[i-1].Timestamp))
	}

	validated, err := domain.ValidateTable(Table(obs))
	require.NoError(t, err)
	assert.Len(t, validated, 720)
}

func TestGenerate_Skip(t *testing.T) {
	opts := DefaultOptions()
	opts.Hours = 48
	opts.Skip = []int{10, 11}

	obs := Generate(opts)
	require.Len(t, obs, 46)
	assert.Equal(t, 3*time.Hour, obs[10].Timestamp.Sub(obs[9].Timestamp))

	// Skipping leaves the remaining values unchanged.
	opts.Skip = nil
	full := Generate(opts)
	assert.Equal(t, full[12], obs[10])
}

func TestWriteCSV_RoundTripsThroughReader(t *testing.T) {
	opts := DefaultOptions()
	opts.Hours = 5
	obs := Generate(opts)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, obs))

	table, err := csvfile.Decode(&buf)
	require.NoError(t, err)
	got, err := domain.ValidateTable(table)
	require.NoError(t, err)
	if diff := cmp.Diff(obs, got); diff != "" {
		t.Fatalf("observations differ (-want +got):\n%s", diff)
	}
}

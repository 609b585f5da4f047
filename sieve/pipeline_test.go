package sieve

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/mailsieve/domaincheck"
	"github.com/dalemusser/mailsieve/metrics"
	"github.com/dalemusser/mailsieve/pantry/export"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// stubDNS answers A and MX queries from fixed sets and counts queries per host.
type stubDNS struct {
	a  map[string]bool
	mx map[string]bool

	mu      sync.Mutex
	queries map[string]int
}

func newStubDNS() *stubDNS {
	return &stubDNS{a: map[string]bool{}, mx: map[string]bool{}, queries: map[string]int{}}
}

func (s *stubDNS) count(host string) {
	s.mu.Lock()
	s.queries[host]++
	s.mu.Unlock()
}

func (s *stubDNS) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	s.count("A " + host)
	if s.a[host] {
		return []net.IP{net.IPv4(192, 0, 2, 10)}, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func (s *stubDNS) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	s.count("MX " + name)
	if s.mx[name] {
		return []*net.MX{{Host: "mx." + name + ".", Pref: 10}}, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

// memSink keeps appended batches in memory.
type memSink struct {
	headers [][]string
	batches [][][]string
	failOn  int // 1-based Append call that fails; 0 never
	onWrite func()
	closed  bool
}

func (m *memSink) Append(headers []string, rows [][]string) error {
	if m.failOn > 0 && len(m.batches)+1 == m.failOn {
		return errors.New("disk full")
	}
	m.headers = append(m.headers, headers)
	m.batches = append(m.batches, rows)
	if m.onWrite != nil {
		m.onWrite()
	}
	return nil
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func (m *memSink) rows() [][]string {
	var out [][]string
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

type fixture struct {
	dns      *stubDNS
	metrics  *metrics.Sieve
	logs     *observer.ObservedLogs
	pipeline *Pipeline
}

func newFixture(t *testing.T, maxBatches int, trusted ...string) *fixture {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	m := metrics.New(logger)
	d := newStubDNS()

	r, err := domaincheck.NewResolver(domaincheck.Options{
		Trusted: domaincheck.NewTrustedSet(trusted...),
		Lookup:  d,
		Timeout: time.Second,
		Workers: 4,
		Metrics: m,
		Logger:  logger,
	})
	require.NoError(t, err)

	p, err := New(Options{
		MaxBatches:    maxBatches,
		UnwantedTerms: []string{"contato", "administra", "juridico", "admin@", "contab", "falecom", "financeiro", "webmaster"},
		SheetName:     "Sheet1",
		Resolver:      r,
		Metrics:       m,
		Logger:        logger,
	})
	require.NoError(t, err)

	return &fixture{dns: d, metrics: m, logs: logs, pipeline: p}
}

func writeInput(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func readSheet(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	return rows
}

func TestNewRequiresResolver(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestProcessFileKeepsOnlyGoodRecords(t *testing.T) {
	fx := newFixture(t, 50, "example.com")
	in := writeInput(t,
		"nome;correio_eletronico",
		"Ana;User@Example.com.",
		"Bob;admin@foo.com",
		"Caio;not-an-email",
	)
	out := filepath.Join(t.TempDir(), "out.xlsx")

	sum, err := fx.pipeline.ProcessFile(context.Background(), in, out)
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"nome", "correio_eletronico"},
		{"Ana", "user@example.com"},
	}, readSheet(t, out))

	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.Accepted)
	assert.Equal(t, map[string]int{
		metrics.OutcomeUnwantedTerm:  1,
		metrics.OutcomeInvalidSyntax: 1,
	}, sum.Rejected)
	assert.Equal(t, 3, sum.Batches)
	assert.Equal(t, out, sum.Output)

	assert.Empty(t, fx.dns.queries, "trusted domain needs no lookups")
}

func TestProcessFileDomainChecks(t *testing.T) {
	fx := newFixture(t, 50)
	fx.dns.a["live.test"] = true
	fx.dns.mx["live.test"] = true
	fx.dns.a["webonly.test"] = true

	in := writeInput(t,
		"correio_eletronico;cidade",
		"a@live.test;Recife",
		"b@dead.test;Natal",
		"c@webonly.test;Olinda",
		"d@live.test;Recife",
		"e@-bad.test;Natal",
		"f@dead.test;Natal",
	)
	out := filepath.Join(t.TempDir(), "out.csv")

	sum, err := fx.pipeline.ProcessFile(context.Background(), in, out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t,
		"correio_eletronico;cidade\r\n"+
			"a@live.test;Recife\r\n"+
			"c@webonly.test;Olinda\r\n"+
			"d@live.test;Recife\r\n",
		string(data))

	assert.Equal(t, 3, sum.Accepted)
	assert.Equal(t, 3, sum.Rejected[metrics.OutcomeUntrustedDomain])

	// One query of each kind per distinct domain at most.
	for q, n := range fx.dns.queries {
		assert.Equal(t, 1, n, q)
	}
	assert.Equal(t, 1, fx.dns.queries["A live.test"])
	assert.Equal(t, 1, fx.dns.queries["MX live.test"])
	assert.Zero(t, fx.dns.queries["MX dead.test"], "MX follows a successful A lookup only")
	assert.Zero(t, fx.dns.queries["A -bad.test"], "bad syntax never reaches DNS")

	expected := `
# HELP mailsieve_records_total Input records by filter outcome.
# TYPE mailsieve_records_total counter
mailsieve_records_total{outcome="accepted"} 3
mailsieve_records_total{outcome="untrusted_domain"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(fx.metrics.Registry(), strings.NewReader(expected), "mailsieve_records_total"))

	// Only the repeats of live.test and dead.test are served as cache hits.
	hits := `
# HELP mailsieve_domain_cache_hits_total Domain resolutions answered from the run cache.
# TYPE mailsieve_domain_cache_hits_total counter
mailsieve_domain_cache_hits_total 2
`
	assert.NoError(t, testutil.GatherAndCompare(fx.metrics.Registry(), strings.NewReader(hits), "mailsieve_domain_cache_hits_total"))
}

func TestProcessDistinctDomainsHaveNoCacheHits(t *testing.T) {
	fx := newFixture(t, 1)
	fx.dns.a["one.test"] = true
	tbl := &export.Table{
		Headers: []string{"correio_eletronico"},
		Rows:    [][]string{{"a@one.test"}, {"b@two.test"}},
	}

	_, err := fx.pipeline.Process(context.Background(), tbl, &memSink{})
	require.NoError(t, err)

	expected := `
# HELP mailsieve_domain_cache_hits_total Domain resolutions answered from the run cache.
# TYPE mailsieve_domain_cache_hits_total counter
mailsieve_domain_cache_hits_total 0
`
	assert.NoError(t, testutil.GatherAndCompare(fx.metrics.Registry(), strings.NewReader(expected), "mailsieve_domain_cache_hits_total"))
}

func TestProcessFileMissingColumn(t *testing.T) {
	fx := newFixture(t, 50)
	in := writeInput(t, "nome;email", "Ana;ana@example.com")
	out := filepath.Join(t.TempDir(), "out.xlsx")

	_, err := fx.pipeline.ProcessFile(context.Background(), in, out)
	require.ErrorIs(t, err, ErrMissingColumn)

	_, statErr := os.Stat(out)
	assert.ErrorIs(t, statErr, os.ErrNotExist, "no output on input errors")
}

func TestProcessFileInputNotFound(t *testing.T) {
	fx := newFixture(t, 50)
	_, err := fx.pipeline.ProcessFile(context.Background(),
		filepath.Join(t.TempDir(), "missing.csv"), filepath.Join(t.TempDir(), "out.xlsx"))
	assert.ErrorIs(t, err, ErrInputNotFound)
}

func TestProcessFileAppendsToExistingOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.xlsx")

	first := writeInput(t, "nome;correio_eletronico", "Ana;ana@example.com", "Bia;bia@example.com")
	_, err := newFixture(t, 50, "example.com").pipeline.ProcessFile(context.Background(), first, out)
	require.NoError(t, err)

	second := writeInput(t, "nome;correio_eletronico", "Caio;CAIO@example.com")
	_, err = newFixture(t, 50, "example.com").pipeline.ProcessFile(context.Background(), second, out)
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"nome", "correio_eletronico"},
		{"Ana", "ana@example.com"},
		{"Bia", "bia@example.com"},
		{"Caio", "caio@example.com"},
	}, readSheet(t, out))
}

func TestProcessPreservesOrderAcrossBatches(t *testing.T) {
	fx := newFixture(t, 4, "example.com")

	tbl := &export.Table{Headers: []string{"n", "correio_eletronico"}}
	var want [][]string
	for i := 0; i < 20; i++ {
		n := string(rune('a' + i))
		if i%3 == 0 {
			tbl.Rows = append(tbl.Rows, []string{n, "financeiro@example.com"})
			continue
		}
		tbl.Rows = append(tbl.Rows, []string{n, strings.ToUpper(n) + "@Example.com"})
		want = append(want, []string{n, n + "@example.com"})
	}

	sink := &memSink{}
	sum, err := fx.pipeline.Process(context.Background(), tbl, sink)
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Batches)
	assert.Equal(t, 4, sum.Written)
	assert.Equal(t, want, sink.rows())
	for _, h := range sink.headers {
		assert.Equal(t, tbl.Headers, h)
	}

	// Input rows are not modified.
	assert.Equal(t, "B@Example.com", tbl.Rows[1][1])
}

func TestProcessSkipsEmptyBatches(t *testing.T) {
	fx := newFixture(t, 2, "example.com")
	tbl := &export.Table{
		Headers: []string{"correio_eletronico"},
		Rows:    [][]string{{"bad"}, {"bad too"}, {"ok@example.com"}, {"x@example.com"}},
	}

	sink := &memSink{}
	sum, err := fx.pipeline.Process(context.Background(), tbl, sink)
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Batches)
	assert.Equal(t, 1, sum.Written)
	assert.Len(t, sink.batches, 1)
}

func TestProcessNothingAccepted(t *testing.T) {
	fx := newFixture(t, 50)
	in := writeInput(t, "correio_eletronico", "bad", "contato@example.com")
	out := filepath.Join(t.TempDir(), "out.xlsx")

	sum, err := fx.pipeline.ProcessFile(context.Background(), in, out)
	require.NoError(t, err)
	assert.Zero(t, sum.Accepted)

	_, statErr := os.Stat(out)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
	assert.Equal(t, 1, fx.logs.FilterMessage("no records accepted; nothing written").Len())
}

func TestProcessWriteFailureKeepsEarlierBatches(t *testing.T) {
	fx := newFixture(t, 3, "example.com")
	tbl := &export.Table{
		Headers: []string{"correio_eletronico"},
		Rows:    [][]string{{"a@example.com"}, {"b@example.com"}, {"c@example.com"}},
	}

	sink := &memSink{failOn: 2}
	sum, err := fx.pipeline.Process(context.Background(), tbl, sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write batch 2")

	assert.Equal(t, 1, sum.Written)
	assert.Equal(t, [][]string{{"a@example.com"}}, sink.rows())
	assert.Equal(t, 1, fx.logs.FilterMessage("batch write failed").Len())
}

func TestProcessStopsWhenCancelled(t *testing.T) {
	fx := newFixture(t, 3, "example.com")
	tbl := &export.Table{
		Headers: []string{"correio_eletronico"},
		Rows:    [][]string{{"a@example.com"}, {"b@example.com"}, {"c@example.com"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &memSink{onWrite: cancel}

	sum, err := fx.pipeline.Process(ctx, tbl, sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sum.Written)
	assert.Len(t, sink.batches, 1)

	sink = &memSink{}
	_, err = fx.pipeline.Process(ctx, tbl, sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.batches)
}

func TestProcessLogsProgress(t *testing.T) {
	fx := newFixture(t, 2, "example.com")
	tbl := &export.Table{
		Headers: []string{"correio_eletronico"},
		Rows:    [][]string{{"a@example.com"}, {"nope"}, {"c@example.com"}, {"d@example.com"}},
	}

	_, err := fx.pipeline.Process(context.Background(), tbl, &memSink{})
	require.NoError(t, err)

	loaded := fx.logs.FilterMessage("records loaded").All()
	require.Len(t, loaded, 1)
	assert.Equal(t, int64(4), loaded[0].ContextMap()["total"])

	started := fx.logs.FilterMessage("batch started").All()
	require.Len(t, started, 2)
	assert.Equal(t, int64(1), started[0].ContextMap()["from"])
	assert.Equal(t, int64(3), started[1].ContextMap()["from"])
	assert.Equal(t, int64(4), started[1].ContextMap()["to"])

	assert.Equal(t, 2, fx.logs.FilterMessage("batch finished").Len())
	assert.Equal(t, 1, fx.logs.FilterMessage("processing complete").Len())

	rejected := fx.logs.FilterMessage("record rejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, "***@***", rejected[0].ContextMap()["email"])
}

func TestOpenSinkByExtension(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenSink(filepath.Join(dir, "out.CSV"), "Sheet1", ';')
	require.NoError(t, err)
	assert.IsType(t, &export.CSVAppender{}, s)
	require.NoError(t, s.Close())

	s, err = OpenSink(filepath.Join(dir, "out.xlsx"), "Sheet1", ';')
	require.NoError(t, err)
	assert.IsType(t, &export.Workbook{}, s)
	require.NoError(t, s.Close())
}

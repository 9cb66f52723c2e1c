// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/biofhe"
	"github.com/luxfi/biofhe/cleartext"
	"github.com/luxfi/biofhe/internal/queue"
	"github.com/luxfi/biofhe/internal/storage"
	"github.com/luxfi/biofhe/internal/tables"
)

const tableSize = 8

func diagonal(size int, match int32) biofhe.ScoreTable {
	t := make(biofhe.ScoreTable, size)
	for i := range t {
		t[i] = make([]int32, size)
		for j := range t[i] {
			switch {
			case i == j:
				t[i][j] = match
			case i > j:
				t[i][j] = int32(j - i)
			default:
				t[i][j] = int32(i - j)
			}
		}
	}
	return t
}

func testTables(n int) []biofhe.ScoreTable {
	out := make([]biofhe.ScoreTable, n)
	for i := range out {
		out[i] = diagonal(tableSize, 3)
	}
	return out
}

func fill(n int, c int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = c
	}
	return out
}

type fixture struct {
	engine   *cleartext.Engine
	verifier *Verifier
	store    storage.Storage
	queue    *queue.MemoryQueue
	srv      *httptest.Server
}

func newFixture(t *testing.T, opts ...cleartext.Option) *fixture {
	t.Helper()
	settings := biofhe.DefaultSettings()
	cfg, err := settings.Config()
	require.NoError(t, err)

	engine := cleartext.New(cfg.Radix(), opts...)
	store, err := storage.Open(settings.Storage)
	require.NoError(t, err)
	v, err := NewVerifier(settings, engine, testTables(cfg.Features()), store, nil)
	require.NoError(t, err)

	q := queue.NewMemoryQueue(16)
	srv := httptest.NewServer(New(Config{Queue: q}, v).Handler())
	t.Cleanup(func() {
		srv.Close()
		q.Close()
		store.Close()
	})
	return &fixture{engine: engine, verifier: v, store: store, queue: q, srv: srv}
}

func (f *fixture) post(t *testing.T, path string, body any, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// poll fetches a job without failing the test, for use inside Eventually.
func (f *fixture) poll(id string) JobResponse {
	var job JobResponse
	resp, err := http.Get(f.srv.URL + "/v1/jobs/" + id)
	if err != nil {
		return job
	}
	defer resp.Body.Close()
	_ = json.NewDecoder(resp.Body).Decode(&job)
	return job
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	var body map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/health", &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "BMDB2", body["dataset"])
	assert.Equal(t, "classic-cpu", body["strategy"])
	assert.Equal(t, true, body["jobs"])
}

func TestPresetsAndStrategies(t *testing.T) {
	f := newFixture(t)
	var presets []PresetInfo
	require.Equal(t, http.StatusOK, f.get(t, "/v1/presets", &presets))
	require.Len(t, presets, len(biofhe.Presets()))
	for _, p := range presets {
		if p.Name == "BMDB2" {
			assert.Equal(t, 2, p.BlockLength)
			assert.Equal(t, 36, p.Features)
		}
	}

	var strategies []StrategyInfo
	require.Equal(t, http.StatusOK, f.get(t, "/v1/strategies", &strategies))
	require.Len(t, strategies, len(biofhe.StrategyNames()))
	for _, s := range strategies {
		if strings.HasPrefix(s.Name, "multibit") {
			assert.Equal(t, biofhe.AssuranceReduced.String(), s.Assurance, s.Name)
		} else {
			assert.Equal(t, biofhe.AssuranceFull.String(), s.Assurance, s.Name)
		}
	}
}

func TestEnrollAndAuthenticate(t *testing.T) {
	f := newFixture(t)
	n := f.verifier.Config().Features()

	var enrolled EnrollResponse
	require.Equal(t, http.StatusCreated, f.post(t, "/v1/templates", EnrollRequest{Template: fill(n, 2)}, &enrolled))
	require.NotEmpty(t, enrolled.Handle)

	var match AuthenticateResponse
	require.Equal(t, http.StatusOK, f.post(t, "/v1/authenticate", AuthenticateRequest{
		TemplateHandle: enrolled.Handle,
		Probe:          fill(n, 2),
	}, &match))
	assert.True(t, match.Match)
	assert.Equal(t, "classic-cpu", match.Strategy)

	var miss AuthenticateResponse
	require.Equal(t, http.StatusOK, f.post(t, "/v1/authenticate", AuthenticateRequest{
		TemplateHandle: enrolled.Handle,
		Probe:          fill(n, 7),
		Strategy:       "classic-gpu",
	}, &miss))
	assert.False(t, miss.Match)
	assert.Equal(t, "classic-gpu", miss.Strategy)

	// The stored decision decrypts to the reported outcome.
	resp, err := http.Get(f.srv.URL + "/v1/results/" + match.ResultHandle)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	var ct cleartext.Ciphertext
	require.NoError(t, ct.UnmarshalBinary(buf.Bytes()))
	ok, err := f.engine.DecryptBool(&ct)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthenticateInlineTemplate(t *testing.T) {
	f := newFixture(t)
	n := f.verifier.Config().Features()
	var resp AuthenticateResponse
	require.Equal(t, http.StatusOK, f.post(t, "/v1/authenticate", AuthenticateRequest{
		Template: fill(n, 1),
		Probe:    fill(n, 1),
	}, &resp))
	assert.True(t, resp.Match)
}

func TestAuthenticateErrors(t *testing.T) {
	f := newFixture(t)
	n := f.verifier.Config().Features()

	var enrolled EnrollResponse
	require.Equal(t, http.StatusCreated, f.post(t, "/v1/templates", EnrollRequest{Template: fill(n, 0)}, &enrolled))

	cases := []struct {
		name   string
		req    AuthenticateRequest
		status int
	}{
		{"short probe", AuthenticateRequest{TemplateHandle: enrolled.Handle, Probe: fill(n-1, 0)}, http.StatusBadRequest},
		{"probe out of table", AuthenticateRequest{TemplateHandle: enrolled.Handle, Probe: fill(n, tableSize)}, http.StatusUnprocessableEntity},
		{"code over a byte", AuthenticateRequest{TemplateHandle: enrolled.Handle, Probe: fill(n, 300)}, http.StatusBadRequest},
		{"unknown template", AuthenticateRequest{TemplateHandle: string(storage.ComputeHandle([]byte("nobody"))), Probe: fill(n, 0)}, http.StatusBadRequest},
		{"bad handle", AuthenticateRequest{TemplateHandle: "xyz", Probe: fill(n, 0)}, http.StatusBadRequest},
		{"both templates", AuthenticateRequest{TemplateHandle: enrolled.Handle, Template: fill(n, 0), Probe: fill(n, 0)}, http.StatusBadRequest},
		{"unknown strategy", AuthenticateRequest{TemplateHandle: enrolled.Handle, Probe: fill(n, 0), Strategy: "quantum"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body errorResponse
			assert.Equal(t, tc.status, f.post(t, "/v1/authenticate", tc.req, &body))
			assert.NotEmpty(t, body.Error)
		})
	}

	var body errorResponse
	require.Equal(t, http.StatusBadRequest, f.post(t, "/v1/templates", map[string]any{"templat": []int{1}}, &body))
	require.Equal(t, http.StatusUnprocessableEntity, f.post(t, "/v1/templates", EnrollRequest{Template: fill(n, tableSize)}, &body))
}

func TestEngineFailureIsOpaque(t *testing.T) {
	f := newFixture(t, cleartext.WithFault(cleartext.StepCompare, 1))
	n := f.verifier.Config().Features()

	var body errorResponse
	status := f.post(t, "/v1/authenticate", AuthenticateRequest{Template: fill(n, 1), Probe: fill(n, 1)}, &body)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "verification failed", body.Error)
}

func TestNoAcceleratorStrategy(t *testing.T) {
	f := newFixture(t, cleartext.WithoutAccelerator())
	n := f.verifier.Config().Features()
	var body errorResponse
	status := f.post(t, "/v1/authenticate", AuthenticateRequest{
		Template: fill(n, 1), Probe: fill(n, 1), Strategy: "classic-gpu",
	}, &body)
	assert.Equal(t, http.StatusNotImplemented, status)
}

func TestJobs(t *testing.T) {
	f := newFixture(t)
	n := f.verifier.Config().Features()

	var enrolled EnrollResponse
	require.Equal(t, http.StatusCreated, f.post(t, "/v1/templates", EnrollRequest{Template: fill(n, 3)}, &enrolled))

	var submitted JobResponse
	require.Equal(t, http.StatusAccepted, f.post(t, "/v1/jobs", JobRequest{
		TemplateHandle: enrolled.Handle,
		Probe:          fill(n, 3),
	}, &submitted))
	assert.Equal(t, "pending", submitted.Status)
	assert.Nil(t, submitted.Match)

	pool := NewWorkerPool(f.verifier, f.queue, 2, 0, 0)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop(time.Second)

	var job JobResponse
	require.Eventually(t, func() bool {
		job = f.poll(submitted.ID)
		return job.Status == "completed" || job.Status == "failed"
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, "completed", job.Status, job.Error)
	require.NotNil(t, job.Match)
	assert.True(t, *job.Match)
	assert.NotEmpty(t, job.ResultHandle)
	assert.Equal(t, int64(1), pool.Succeeded())

	var missing errorResponse
	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/jobs/nope", &missing))
}

func TestProcessFailedJob(t *testing.T) {
	f := newFixture(t, cleartext.WithFault(cleartext.StepEncrypt, 1))
	n := f.verifier.Config().Features()
	ctx := context.Background()

	h, err := f.verifier.Enroll(ctx, make([]biofhe.Code, n))
	require.NoError(t, err)

	pool := NewWorkerPool(f.verifier, f.queue, 1, 0, 0)
	job := &queue.Job{ID: "j1", TemplateHandle: string(h), Probe: make([]uint8, n)}
	require.NoError(t, f.queue.Push(ctx, job))
	popped, err := f.queue.Pop(ctx)
	require.NoError(t, err)

	pool.Process(ctx, popped)
	got, err := f.queue.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
	assert.Equal(t, "verification failed", got.Error)
	assert.Equal(t, int64(1), pool.Failed())

	wrong := &queue.Job{ID: "j2", Dataset: "FRGC", TemplateHandle: string(h), Probe: make([]uint8, n)}
	require.NoError(t, f.queue.Push(ctx, wrong))
	popped, err = f.queue.Pop(ctx)
	require.NoError(t, err)
	pool.Process(ctx, popped)
	got, err = f.queue.Get(ctx, "j2")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "FRGC")
}

func TestRateLimitedPool(t *testing.T) {
	f := newFixture(t)
	pool := NewWorkerPool(f.verifier, f.queue, 1, 1000, 1)
	require.NoError(t, pool.Start(context.Background()))
	require.Error(t, pool.Start(context.Background()))
	require.NoError(t, pool.Stop(time.Second))
	require.NoError(t, pool.Stop(time.Second))
}

func writeDataset(t *testing.T, dir string, cfg biofhe.Config) {
	t.Helper()
	p := tables.NewProvider(dir, cfg)
	var rows []string
	for _, row := range diagonal(tableSize, 3) {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprint(v)
		}
		rows = append(rows, strings.Join(cells, ","))
	}
	table := strings.Join(rows, "\n") + "\n"
	for i := 0; i < cfg.Features(); i++ {
		require.NoError(t, os.MkdirAll(filepath.Dir(p.TablePath(i)), 0o755))
		require.NoError(t, os.WriteFile(p.TablePath(i), []byte(table), 0o644))
	}
	// Bin edges 0.5, 1.5, ... 6.5 map value k to code k.
	edges := make([]string, tableSize-1)
	for i := range edges {
		edges[i] = fmt.Sprintf("%d.5", i)
	}
	require.NoError(t, os.WriteFile(p.BinsPath(), []byte(strings.Join(edges, ",")), 0o644))

	var samples []string
	for id := 1; id <= 3; id++ {
		vals := []string{fmt.Sprint(id)}
		for f := 0; f < cfg.Features(); f++ {
			vals = append(vals, fmt.Sprint(id))
		}
		samples = append(samples, strings.Join(vals, ","))
	}
	require.NoError(t, os.WriteFile(p.DatasetPath(), []byte(strings.Join(samples, "\n")+"\n"), 0o644))
}

func TestAuthenticateSamples(t *testing.T) {
	settings := biofhe.DefaultSettings()
	settings.DataDir = t.TempDir()
	cfg, err := settings.Config()
	require.NoError(t, err)
	writeDataset(t, settings.DataDir, cfg)

	provider := tables.NewProvider(settings.DataDir, cfg)
	scoreTables, err := provider.ScoreTables()
	require.NoError(t, err)

	store := storage.NewMemoryStorage(16)
	v, err := NewVerifier(settings, cleartext.New(cfg.Radix()), scoreTables, store, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(New(Config{Samples: provider}, v).Handler())
	defer srv.Close()
	f := &fixture{verifier: v, store: store, srv: srv}

	var resp AuthenticateResponse
	require.Equal(t, http.StatusOK, f.post(t, "/v1/authenticate/samples", SampleRequest{ProbeID: 2, TemplateID: 5}, &resp))
	assert.True(t, resp.Match)

	require.Equal(t, http.StatusOK, f.post(t, "/v1/authenticate/samples", SampleRequest{ProbeID: 1, TemplateID: 3}, &resp))
	assert.False(t, resp.Match)

	var body errorResponse
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/v1/authenticate/samples", SampleRequest{ProbeID: 0, TemplateID: 1}, &body))

	// No queue configured.
	assert.Equal(t, http.StatusNotFound, f.post(t, "/v1/jobs", JobRequest{}, &body))
}

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ledgerwatch/erigon/common"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/snapshotter"
	"github.com/ledgerwatch/snapshotter/api/internal"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot"
)

type mockSnapshots struct {
	mock.Mock
}

func (m *mockSnapshots) Manifest() *snapshot.ManifestData {
	args := m.Called()
	md, _ := args.Get(0).(*snapshot.ManifestData)
	return md
}

func (m *mockSnapshots) Chunk(hash common.Hash) ([]byte, error) {
	args := m.Called(hash)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *mockSnapshots) SupportedVersions() (uint64, uint64, bool) {
	args := m.Called()
	return args.Get(0).(uint64), args.Get(1).(uint64), args.Bool(2)
}

type mockRestorer struct {
	mock.Mock
}

func (m *mockRestorer) Status() snapshot.RestorationStatus {
	return m.Called().Get(0).(snapshot.RestorationStatus)
}

func (m *mockRestorer) CompletedChunks() ([]common.Hash, bool) {
	args := m.Called()
	hashes, _ := args.Get(0).([]common.Hash)
	return hashes, args.Bool(1)
}

func (m *mockRestorer) BeginRestore(md *snapshot.ManifestData) {
	m.Called(md)
}

func (m *mockRestorer) FeedStateChunk(hash common.Hash, chunk []byte) error {
	return m.Called(hash, chunk).Error(0)
}

func (m *mockRestorer) FeedBlockChunk(hash common.Hash, chunk []byte) error {
	return m.Called(hash, chunk).Error(0)
}

func (m *mockRestorer) AbortRestore() {
	m.Called()
}

var testManifest = &snapshot.ManifestData{
	Version:     snapshot.StateChunkVersion,
	StateHashes: []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")},
	BlockHashes: []common.Hash{common.HexToHash("0x03")},
	StateRoot:   common.HexToHash("0xaa"),
	BlockNumber: 42,
	BlockHash:   common.HexToHash("0xbb"),
}

func newTestServer(t *testing.T, s *mockSnapshots, r *mockRestorer) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(APIServices{Snapshots: s, Restorer: r, Metrics: prometheus.NewRegistry()}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body []byte) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func TestSnapshotEndpoints(t *testing.T) {
	encoded := testManifest.Bytes()
	chunk := []byte("compressed chunk")
	missing := common.HexToHash("0x09")

	tt := []struct {
		name     string
		setup    func(s *mockSnapshots)
		path     string
		code     int
		contains string
		body     []byte
	}{
		{
			name:  "manifest rlp",
			setup: func(s *mockSnapshots) { s.On("Manifest").Return(testManifest) },
			path:  "/snapshot/manifest",
			code:  http.StatusOK,
			body:  encoded,
		},
		{
			name:     "manifest json",
			setup:    func(s *mockSnapshots) { s.On("Manifest").Return(testManifest) },
			path:     "/snapshot/manifest?format=json",
			code:     http.StatusOK,
			contains: `"block_number":42`,
		},
		{
			name:  "no manifest",
			setup: func(s *mockSnapshots) { s.On("Manifest").Return(nil) },
			path:  "/snapshot/manifest",
			code:  http.StatusNotFound,
		},
		{
			name:  "chunk",
			setup: func(s *mockSnapshots) { s.On("Chunk", testManifest.StateHashes[0]).Return(chunk, nil) },
			path:  "/snapshot/chunks/" + testManifest.StateHashes[0].Hex(),
			code:  http.StatusOK,
			body:  chunk,
		},
		{
			name: "missing chunk",
			setup: func(s *mockSnapshots) {
				s.On("Chunk", missing).Return(nil, snapshotter.NotFound(errors.New("chunk")))
			},
			path: "/snapshot/chunks/" + missing.Hex(),
			code: http.StatusNotFound,
		},
		{
			name:  "bad hash",
			setup: func(*mockSnapshots) {},
			path:  "/snapshot/chunks/xyz",
			code:  http.StatusBadRequest,
		},
		{
			name:     "versions",
			setup:    func(s *mockSnapshots) { s.On("SupportedVersions").Return(uint64(1), uint64(2), true) },
			path:     "/snapshot/versions",
			code:     http.StatusOK,
			contains: `{"min":1,"max":2}`,
		},
		{
			name:  "versions unsupported",
			setup: func(s *mockSnapshots) { s.On("SupportedVersions").Return(uint64(0), uint64(0), false) },
			path:  "/snapshot/versions",
			code:  http.StatusNotImplemented,
		},
		{
			name:     "health",
			setup:    func(s *mockSnapshots) { s.On("Manifest").Return(testManifest) },
			path:     "/health",
			code:     http.StatusOK,
			contains: `"snapshot":true`,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			s := &mockSnapshots{}
			tc.setup(s)
			srv := newTestServer(t, s, &mockRestorer{})

			code, body := do(t, http.MethodGet, srv.URL+tc.path, nil)
			assert.Equal(t, tc.code, code)
			if tc.body != nil {
				assert.Equal(t, tc.body, body)
			}
			if tc.contains != "" {
				assert.Contains(t, string(body), tc.contains)
			}
			s.AssertExpectations(t)
		})
	}
}

func TestRestoreEndpoints(t *testing.T) {
	encoded := testManifest.Bytes()
	hash := testManifest.StateHashes[0]
	chunk := []byte("chunk bytes")

	tt := []struct {
		name   string
		setup  func(r *mockRestorer)
		method string
		path   string
		body   []byte
		code   int
	}{
		{
			name:   "begin",
			setup:  func(r *mockRestorer) { r.On("BeginRestore", testManifest).Return() },
			method: http.MethodPost,
			path:   "/restore",
			body:   encoded,
			code:   http.StatusAccepted,
		},
		{
			name:   "begin with garbage",
			setup:  func(*mockRestorer) {},
			method: http.MethodPost,
			path:   "/restore",
			body:   []byte{0x01},
			code:   http.StatusBadRequest,
		},
		{
			name:   "state chunk",
			setup:  func(r *mockRestorer) { r.On("FeedStateChunk", hash, chunk).Return(nil) },
			method: http.MethodPost,
			path:   "/restore/state/" + hash.Hex(),
			body:   chunk,
			code:   http.StatusNoContent,
		},
		{
			name: "block chunk rejected",
			setup: func(r *mockRestorer) {
				r.On("FeedBlockChunk", hash, chunk).Return(snapshotter.BadRequest(snapshotter.Verification(errors.New("content"))))
			},
			method: http.MethodPost,
			path:   "/restore/blocks/" + hash.Hex(),
			body:   chunk,
			code:   http.StatusBadRequest,
		},
		{
			name: "restoration failed",
			setup: func(r *mockRestorer) {
				r.On("FeedBlockChunk", hash, chunk).Return(snapshotter.Verification(errors.New("state root")))
			},
			method: http.MethodPost,
			path:   "/restore/blocks/" + hash.Hex(),
			body:   chunk,
			code:   http.StatusUnprocessableEntity,
		},
		{
			name:   "abort",
			setup:  func(r *mockRestorer) { r.On("AbortRestore").Return() },
			method: http.MethodPost,
			path:   "/restore/abort",
			code:   http.StatusNoContent,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			r := &mockRestorer{}
			tc.setup(r)
			srv := newTestServer(t, &mockSnapshots{}, r)

			code, _ := do(t, tc.method, srv.URL+tc.path, tc.body)
			assert.Equal(t, tc.code, code)
			r.AssertExpectations(t)
		})
	}
}

func TestRestoreStatus(t *testing.T) {
	r := &mockRestorer{}
	r.On("Status").Return(snapshot.RestorationStatus{
		Kind:            snapshot.StatusOngoing,
		StateChunks:     2,
		BlockChunks:     1,
		StateChunksDone: 1,
	})
	r.On("CompletedChunks").Return([]common.Hash{testManifest.StateHashes[0]}, true)
	srv := newTestServer(t, &mockSnapshots{}, r)

	code, body := do(t, http.MethodGet, srv.URL+"/restore/status", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"status":"ongoing"`)
	assert.Contains(t, string(body), `"stateChunksDone":1`)

	code, body = do(t, http.MethodGet, srv.URL+"/restore/completed", nil)
	require.Equal(t, http.StatusOK, code)
	var completed internal.CompletedJSON
	require.NoError(t, json.Unmarshal(body, &completed))
	assert.True(t, completed.Active)
	assert.Equal(t, []string{testManifest.StateHashes[0].Hex()}, completed.Chunks)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	chunks := prometheus.NewCounter(prometheus.CounterOpts{Name: "snapshot_chunks_served", Help: "Chunks served."})
	reg.MustRegister(chunks)
	chunks.Add(3)

	srv := httptest.NewServer(NewHandler(APIServices{Snapshots: &mockSnapshots{}, Restorer: &mockRestorer{}, Metrics: reg}))
	defer srv.Close()

	code, body := do(t, http.MethodGet, srv.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(string(body), "snapshot_chunks_served 3"))
}

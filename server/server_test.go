package server

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	merkletree "zair/zair-prover/merkle-tree"
	"zair/zair-prover/prover"
	"zair/zair-prover/prover/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDepth = 4

var testRange = common.HeightRange{Start: 419200, End: 2500000}

type fixedSystems struct {
	ps *common.ProvingSystem
}

func (f fixedSystems) GetSystem(depth uint32) (*common.ProvingSystem, error) {
	if f.ps == nil || f.ps.TreeDepth != depth {
		return nil, fmt.Errorf("no proving system for depth %d", depth)
	}
	return f.ps, nil
}

func nullifier(v uint64) merkletree.Nullifier {
	var n merkletree.Nullifier
	binary.BigEndian.PutUint64(n[24:], v)
	return n
}

func witness(t *testing.T, value uint64) *prover.NonMembershipParameters {
	t.Helper()
	tree, err := merkletree.Build([]merkletree.Nullifier{nullifier(10), nullifier(20), nullifier(30)}, testDepth)
	require.NoError(t, err)
	bracket, err := tree.Bracket(nullifier(value))
	require.NoError(t, err)
	var secret prover.NoteSecret
	secret[0], secret[31] = 0xaa, byte(value)
	return prover.NewNonMembershipParameters(bracket, prover.DefaultHidingDomain(common.Sapling), testRange, secret)
}

func post(t *testing.T, handler http.Handler, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func httptestGet(handler http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["code"]
}

func TestHealth(t *testing.T) {
	handler := NewHandler(&Config{}, nil, fixedSystems{}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestProveRejectsBadRequests(t *testing.T) {
	handler := NewHandler(&Config{Depths: []uint32{32}}, nil, fixedSystems{}, nil)

	rec := post(t, handler, "/prove", []byte("not json"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "malformed_body", errorCode(t, rec))

	rec = post(t, handler, "/prove", []byte(`{"circuitType":"inclusion","pool":"sapling"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "malformed_body", errorCode(t, rec))

	body, err := json.Marshal(witness(t, 15))
	require.NoError(t, err)
	rec = post(t, handler, "/prove", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "proving_error", errorCode(t, rec))

	// the queue is absent, so status lookups are not routed
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/prove/status?job_id=x", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProveInconsistentWitness(t *testing.T) {
	handler := NewHandler(&Config{}, nil, fixedSystems{ps: &common.ProvingSystem{TreeDepth: testDepth}}, nil)

	params := witness(t, 15)
	params.LowIndex++
	body, err := json.Marshal(params)
	require.NoError(t, err)

	rec := post(t, handler, "/prove", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "proving_error", errorCode(t, rec))
}

func TestAPIKey(t *testing.T) {
	handler := NewHandler(&Config{APIKey: "secret"}, nil, fixedSystems{}, nil)

	rec := post(t, handler, "/prove", []byte(`{}`), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorCode(t, rec))
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	rec = post(t, handler, "/prove", []byte(`{}`), map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(t, handler, "/prove", []byte(`{}`), map[string]string{"Authorization": "Basic secret"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// authorized requests reach the handler, which rejects the empty claim
	rec = post(t, handler, "/prove", []byte(`{}`), map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, handler, "/prove", []byte(`{}`), map[string]string{"Authorization": "bearer secret"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyGuardsVerify(t *testing.T) {
	verification := &Verification{
		Verifier:  prover.NewVerifier(nil, prover.DefaultHidingDomain(common.Sapling)),
		Published: map[common.Pool]prover.PublishedRoot{},
	}
	handler := NewHandler(&Config{APIKey: "secret"}, nil, fixedSystems{}, verification)

	rec := post(t, handler, "/verify", []byte("["), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(t, handler, "/verify", []byte("["), map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyRejectsMalformedBody(t *testing.T) {
	verification := &Verification{
		Verifier:  prover.NewVerifier(nil, prover.DefaultHidingDomain(common.Sapling)),
		Published: map[common.Pool]prover.PublishedRoot{},
	}
	handler := NewHandler(&Config{}, nil, fixedSystems{}, verification)

	rec := post(t, handler, "/verify", []byte("["), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, handler, "/verify", []byte(`{"pool":"sapling"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProveAndVerifyOverHTTP(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup")
	}
	ps, err := prover.SetupNonMembership(testDepth)
	require.NoError(t, err)

	params := witness(t, 15)
	verification := &Verification{
		Verifier: prover.NewVerifier(ps.VerifyingKey, prover.DefaultHidingDomain(common.Sapling), prover.DefaultHidingDomain(common.Orchard)),
		Published: map[common.Pool]prover.PublishedRoot{
			common.Sapling: {Root: params.Root, Range: testRange},
		},
	}
	handler := NewHandler(&Config{Depths: []uint32{testDepth}}, nil, fixedSystems{ps: ps}, verification)

	body, err := json.Marshal(params)
	require.NoError(t, err)
	rec := post(t, handler, "/prove", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var claim prover.Claim
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &claim))
	assert.Equal(t, common.Sapling, claim.Pool)
	assert.Equal(t, common.ElementToHex(params.HidingNullifier), claim.PublicInputs.HidingNullifier)

	type verifyResponse struct {
		Results []prover.VerificationResult `json:"results"`
		Valid   int                         `json:"valid"`
		Invalid int                         `json:"invalid"`
	}

	rec = post(t, handler, "/verify", rec.Body.Bytes(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var single verifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &single))
	assert.Equal(t, 1, single.Valid)

	set, err := json.Marshal(prover.ClaimSet{Claims: []prover.Claim{claim, claim}})
	require.NoError(t, err)
	rec = post(t, handler, "/verify", set, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var batch verifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Equal(t, 1, batch.Valid)
	assert.Equal(t, 1, batch.Invalid)
	assert.False(t, batch.Results[1].Valid)
	assert.NotEmpty(t, batch.Results[1].Error)
}

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/holiman/uint256"

	"github.com/veilpool/veilpool-node/assets"
	"github.com/veilpool/veilpool-node/db"
	"github.com/veilpool/veilpool-node/db/metadb"
	"github.com/veilpool/veilpool-node/gate"
	"github.com/veilpool/veilpool-node/internal/testutil"
	"github.com/veilpool/veilpool-node/pool"
	"github.com/veilpool/veilpool-node/types"
)

const testDenomination = 10000

type okVerifier struct{}

func (okVerifier) Verify(_ types.HexBytes, _ [pool.NumPublicInputs]*big.Int) (bool, error) {
	return true, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *assets.Book) {
	t.Helper()
	c := qt.New(t)
	database, err := metadb.New(db.TypeInMemory, filepath.Join(t.TempDir(), "db"))
	c.Assert(err, qt.IsNil)

	book := assets.NewBook()
	vault := testutil.Address(0)
	book.Mint(vault, uint256.NewInt(100_000_000))

	g, err := gate.New(gate.Config{
		DB:     database,
		Admin:  testutil.Address(99),
		Oracle: gate.NewStaticOracle(),
		Token:  book.Tokens(),
		Assets: book.AccountOf(vault),
		Verifier: okVerifier{},
		Pools: []types.Pool{{
			ID:           "native-1",
			Asset:        types.AssetNative,
			Denomination: types.NewInt(testDenomination),
			Enabled:      true,
			TreeHeight:   4,
			RootHistory:  5,
		}},
	})
	c.Assert(err, qt.IsNil)

	a := &API{gate: g}
	a.initRouter()
	server := httptest.NewServer(a.Router())
	t.Cleanup(server.Close)
	return server, book
}

func doJSON(t *testing.T, method, url string, body, out any) int {
	t.Helper()
	c := qt.New(t)
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		c.Assert(err, qt.IsNil)
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reqBody)
	c.Assert(err, qt.IsNil)
	resp, err := http.DefaultClient.Do(req)
	c.Assert(err, qt.IsNil)
	defer func() {
		c.Assert(resp.Body.Close(), qt.IsNil)
	}()
	if out != nil {
		c.Assert(json.NewDecoder(resp.Body).Decode(out), qt.IsNil)
	}
	return resp.StatusCode
}

func depositBody(note *testutil.Note, value uint64) *DepositRequest {
	return &DepositRequest{
		From:       testutil.Address(1),
		Commitment: note.CommitmentBig(),
		Value:      new(types.BigInt).SetUint64(value),
	}
}

func TestPingAndPoolListing(t *testing.T) {
	c := qt.New(t)
	server, _ := newTestServer(t)

	status := doJSON(t, http.MethodGet, server.URL+PingEndpoint, nil, nil)
	c.Assert(status, qt.Equals, http.StatusOK)

	var pools []types.Pool
	status = doJSON(t, http.MethodGet, server.URL+"/pools", nil, &pools)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(pools, qt.HasLen, 1)
	c.Assert(pools[0].ID, qt.Equals, types.PoolID("native-1"))
}

func TestPoolInfoAndUnknownPool(t *testing.T) {
	c := qt.New(t)
	server, _ := newTestServer(t)

	var info PoolInfo
	status := doJSON(t, http.MethodGet, server.URL+"/pools/native-1", nil, &info)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(info.LeafCount, qt.Equals, uint64(0))
	c.Assert(info.Required.String(), qt.Equals, fmt.Sprint(testDenomination))

	var apiErr map[string]any
	status = doJSON(t, http.MethodGet, server.URL+"/pools/nope", nil, &apiErr)
	c.Assert(status, qt.Equals, http.StatusNotFound)
	c.Assert(apiErr["code"], qt.Equals, float64(ErrPoolNotFound.Code))
}

func TestDepositLifecycle(t *testing.T) {
	c := qt.New(t)
	server, _ := newTestServer(t)
	note := testutil.NewNote(0)

	var receipt gate.DepositReceipt
	status := doJSON(t, http.MethodPost, server.URL+"/pools/native-1/deposits", depositBody(note, testDenomination), &receipt)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(receipt.LeafIndex, qt.Equals, uint64(0))

	// Duplicate commitment is a coded client error.
	var apiErr map[string]any
	status = doJSON(t, http.MethodPost, server.URL+"/pools/native-1/deposits", depositBody(note, testDenomination), &apiErr)
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	c.Assert(apiErr["code"], qt.Equals, float64(ErrDuplicateDeposit.Code))

	// The deposit record is readable.
	var record types.DepositRecord
	status = doJSON(t, http.MethodGet, server.URL+"/pools/native-1/deposits/0", nil, &record)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(record.LeafIndex, qt.Equals, uint64(0))

	// And the commitment shows up in the range read.
	var commitments CommitmentRange
	status = doJSON(t, http.MethodGet, server.URL+"/pools/native-1/commitments?start=0&end=0", nil, &commitments)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(commitments.Commitments, qt.HasLen, 1)
}

func TestDepositRejectsWrongValue(t *testing.T) {
	c := qt.New(t)
	server, _ := newTestServer(t)

	var apiErr map[string]any
	status := doJSON(t, http.MethodPost, server.URL+"/pools/native-1/deposits", depositBody(testutil.NewNote(0), 1), &apiErr)
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	c.Assert(apiErr["code"], qt.Equals, float64(ErrWrongValue.Code))
}

func TestWithdrawalLifecycle(t *testing.T) {
	c := qt.New(t)
	server, book := newTestServer(t)
	note := testutil.NewNote(0)

	status := doJSON(t, http.MethodPost, server.URL+"/pools/native-1/deposits", depositBody(note, testDenomination), nil)
	c.Assert(status, qt.Equals, http.StatusOK)

	var root RootInfo
	status = doJSON(t, http.MethodGet, server.URL+"/pools/native-1/root", nil, &root)
	c.Assert(status, qt.Equals, http.StatusOK)

	withdrawal := &pool.WithdrawRequest{
		Proof:         types.HexBytes{0x01},
		Root:          root.Root,
		NullifierHash: note.NullifierHashBig(),
		Recipient:     testutil.Address(2),
		Relayer:       testutil.Address(3),
		Fee:           types.NewInt(100),
	}
	status = doJSON(t, http.MethodPost, server.URL+"/pools/native-1/withdrawals", withdrawal, nil)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(book.BalanceOf(testutil.Address(2)).Uint64(), qt.Equals, uint64(testDenomination-100))

	// The nullifier reads as spent.
	var nullifier NullifierStatus
	status = doJSON(t, http.MethodGet,
		server.URL+"/pools/native-1/nullifiers/"+note.NullifierHashBig().String(), nil, &nullifier)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(nullifier.Spent, qt.IsTrue)

	// Replaying the withdrawal is a coded client error.
	var apiErr map[string]any
	status = doJSON(t, http.MethodPost, server.URL+"/pools/native-1/withdrawals", withdrawal, &apiErr)
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	c.Assert(apiErr["code"], qt.Equals, float64(ErrSpentNullifier.Code))

	// The withdrawal record is readable.
	var record types.WithdrawalRecord
	status = doJSON(t, http.MethodGet,
		server.URL+"/pools/native-1/withdrawals/"+note.NullifierHashBig().String(), nil, &record)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(record.Recipient, qt.Equals, testutil.Address(2))
}

func TestNullifierBatchQuery(t *testing.T) {
	c := qt.New(t)
	server, _ := newTestServer(t)

	body := &NullifierBatchRequest{NullifierHashes: []*types.BigInt{
		testutil.NewNote(0).NullifierHashBig(),
		testutil.NewNote(1).NullifierHashBig(),
	}}
	var statuses []NullifierStatus
	status := doJSON(t, http.MethodPost, server.URL+"/pools/native-1/nullifiers", body, &statuses)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(statuses, qt.HasLen, 2)
	c.Assert(statuses[0].Spent, qt.IsFalse)
	c.Assert(statuses[1].Spent, qt.IsFalse)
}

func TestKnownRootQuery(t *testing.T) {
	c := qt.New(t)
	server, _ := newTestServer(t)

	var root RootInfo
	status := doJSON(t, http.MethodGet, server.URL+"/pools/native-1/root", nil, &root)
	c.Assert(status, qt.Equals, http.StatusOK)

	var checked RootInfo
	status = doJSON(t, http.MethodGet, server.URL+"/pools/native-1/root?root="+root.Root.String(), nil, &checked)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(checked.Known, qt.IsNotNil)
	c.Assert(*checked.Known, qt.IsTrue)

	status = doJSON(t, http.MethodGet, server.URL+"/pools/native-1/root?root=12345", nil, &checked)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(*checked.Known, qt.IsFalse)
}

func TestCommitmentRangeErrors(t *testing.T) {
	c := qt.New(t)
	server, _ := newTestServer(t)

	var apiErr map[string]any
	status := doJSON(t, http.MethodGet, server.URL+"/pools/native-1/commitments?start=0&end=5", nil, &apiErr)
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	c.Assert(apiErr["code"], qt.Equals, float64(ErrInvalidRange.Code))

	status = doJSON(t, http.MethodGet, server.URL+"/pools/native-1/commitments?start=x&end=1", nil, &apiErr)
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	c.Assert(apiErr["code"], qt.Equals, float64(ErrMalformedParam.Code))
}

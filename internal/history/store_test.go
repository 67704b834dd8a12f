package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkondo/cryptoexec/internal/core/admission"
	"github.com/mkondo/cryptoexec/internal/core/fees"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndRecent(t *testing.T) {
	s := openTestStore(t)

	reqs := []*admission.Request{
		{ID: "a", ExchangeID: "EX-1", Instrument: "BTC_JPY", Side: "BUY", Kind: fees.KindMaker,
			Amount: 0.01, Price: 5_000_000, State: admission.StateFilled, SubmittedAt: time.Now()},
		{ID: "b", Instrument: "ETH_JPY", Side: "SELL", Kind: fees.KindTaker,
			Amount: 0.1, Price: 400_000, State: admission.StateRejected, RetryCount: 3,
			Err: "timeout", SubmittedAt: time.Now()},
	}
	require.NoError(t, s.InsertTerminal(reqs[0], -10))
	require.NoError(t, s.InsertTerminal(reqs[1], 0))

	rows, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Newest first.
	assert.Equal(t, "b", rows[0].RequestID)
	assert.Equal(t, "REJECTED", rows[0].State)
	assert.Equal(t, 3, rows[0].RetryCount)
	assert.Equal(t, "timeout", rows[0].Err)

	assert.Equal(t, "a", rows[1].RequestID)
	assert.Equal(t, "EX-1", rows[1].ExchangeID)
	assert.Equal(t, "FILLED", rows[1].State)
	assert.InDelta(t, -10, rows[1].Fee, 1e-9)
}

func TestNetFees(t *testing.T) {
	s := openTestStore(t)

	base := &admission.Request{ID: "x", Instrument: "BTC_JPY", State: admission.StateFilled, SubmittedAt: time.Now()}
	require.NoError(t, s.InsertTerminal(base, 60))
	require.NoError(t, s.InsertTerminal(base, -10))
	require.NoError(t, s.InsertTerminal(base, -10))

	net, err := s.NetFees(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 40, net, 1e-9)

	// A cutoff in the future sees nothing.
	net, err = s.NetFees(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, net)
}

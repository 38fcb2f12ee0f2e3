package bank_test

import (
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/easybet/internal/bank"
	"github.com/alanyoungcy/easybet/internal/domain"
)

var (
	admin  = common.HexToAddress("0xad")
	escrow = common.HexToAddress("0xe5")
	alice  = common.HexToAddress("0xa11")
	bob    = common.HexToAddress("0xb0b")
)

func newBank(t *testing.T, faucet int64) *bank.Bank {
	t.Helper()
	return bank.New(bank.Config{
		Escrow:       escrow,
		Admin:        admin,
		FaucetAmount: big.NewInt(faucet),
		Symbol:       "BET",
	}, slog.New(slog.DiscardHandler))
}

func balance(t *testing.T, b *bank.Bank, who common.Address) int64 {
	t.Helper()
	v, err := b.BalanceOf(context.Background(), who)
	require.NoError(t, err)
	return v.Int64()
}

func TestMint_AdminOnly(t *testing.T) {
	ctx := context.Background()
	b := newBank(t, 0)

	err := b.Mint(ctx, alice, alice, big.NewInt(10))
	require.ErrorIs(t, err, domain.ErrAuthorization)
	err = b.Mint(ctx, admin, alice, big.NewInt(0))
	require.ErrorIs(t, err, domain.ErrValidation)

	require.NoError(t, b.Mint(ctx, admin, alice, big.NewInt(10)))
	require.NoError(t, b.Mint(ctx, admin, bob, big.NewInt(5)))
	assert.Equal(t, int64(10), balance(t, b, alice))
	assert.Equal(t, int64(15), b.TotalSupply().Int64())
	assert.Equal(t, "BET", b.Symbol())
}

func TestTransfer_SpendsAllowanceToEscrow(t *testing.T) {
	ctx := context.Background()
	b := newBank(t, 0)
	require.NoError(t, b.Mint(ctx, admin, alice, big.NewInt(100)))

	err := b.Transfer(ctx, alice, escrow, big.NewInt(10))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds, "no allowance yet")

	require.NoError(t, b.Approve(ctx, alice, escrow, big.NewInt(30)))
	require.NoError(t, b.Transfer(ctx, alice, escrow, big.NewInt(20)))

	left, err := b.Allowance(ctx, alice, escrow)
	require.NoError(t, err)
	assert.Equal(t, int64(10), left.Int64())

	err = b.Transfer(ctx, alice, escrow, big.NewInt(11))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(80), balance(t, b, alice), "failed transfer moves nothing")

	// Escrow pays out without an allowance.
	require.NoError(t, b.Transfer(ctx, escrow, bob, big.NewInt(20)))
	assert.Equal(t, int64(20), balance(t, b, bob))
	assert.Zero(t, balance(t, b, escrow))

	err = b.Transfer(ctx, escrow, bob, big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestTransfer_Validation(t *testing.T) {
	ctx := context.Background()
	b := newBank(t, 0)

	for _, amt := range []*big.Int{nil, big.NewInt(0), big.NewInt(-3)} {
		require.ErrorIs(t, b.Transfer(ctx, escrow, alice, amt), domain.ErrValidation)
	}
	require.ErrorIs(t, b.Transfer(ctx, escrow, common.Address{}, big.NewInt(1)), domain.ErrValidation)
	require.ErrorIs(t, b.Approve(ctx, alice, escrow, big.NewInt(-1)), domain.ErrValidation)
}

func TestClaimFaucet_OncePerAddress(t *testing.T) {
	ctx := context.Background()
	b := newBank(t, 500)

	got, err := b.ClaimFaucet(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Int64())

	_, err = b.ClaimFaucet(ctx, alice)
	require.ErrorIs(t, err, domain.ErrState)

	_, err = b.ClaimFaucet(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), b.TotalSupply().Int64())

	_, err = newBank(t, 0).ClaimFaucet(ctx, alice)
	require.ErrorIs(t, err, domain.ErrState, "disabled faucet")
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	b := newBank(t, 50)
	require.NoError(t, b.Mint(ctx, admin, alice, big.NewInt(100)))
	require.NoError(t, b.Approve(ctx, alice, escrow, big.NewInt(40)))
	_, err := b.ClaimFaucet(ctx, bob)
	require.NoError(t, err)

	restored := newBank(t, 50)
	require.NoError(t, restored.Import(b.Export()))

	assert.Equal(t, int64(100), balance(t, restored, alice))
	assert.Equal(t, int64(150), restored.TotalSupply().Int64())
	allowance, err := restored.Allowance(ctx, alice, escrow)
	require.NoError(t, err)
	assert.Equal(t, int64(40), allowance.Int64())
	_, err = restored.ClaimFaucet(ctx, bob)
	require.ErrorIs(t, err, domain.ErrState)

	require.Error(t, restored.Import(b.Export()), "import into a non-empty bank")
}

package dao

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"nft_settlement/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	engine = common.HexToAddress("0x00000000000000000000000000000000000e0e0e")
	weth   = common.HexToAddress("0x000000000000000000000000000000000000e7e7")
	coll   = common.HexToAddress("0x0000000000000000000000000000000000c011ec")
)

func setupTestDB(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewStore(db)
}

func TestNativeTransfer(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	require.NoError(t, s.CreditNative(ctx, alice, big.NewInt(100)))
	require.NoError(t, s.TransferNative(ctx, alice, bob, big.NewInt(40)))

	bal, err := s.NativeBalance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "60", bal.String())
	bal, err = s.NativeBalance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, "40", bal.String())

	err = s.TransferNative(ctx, alice, bob, big.NewInt(61))
	assert.True(t, errors.Is(err, ErrInsufficientBalance))

	require.NoError(t, s.SetRejectsNative(ctx, bob, true))
	err = s.TransferNative(ctx, alice, bob, big.NewInt(1))
	assert.True(t, errors.Is(err, ErrNativeRejected))
}

func TestTransferTokenFromConsumesAllowance(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	require.NoError(t, s.CreditToken(ctx, weth, alice, big.NewInt(1000)))
	require.NoError(t, s.Approve(ctx, weth, alice, engine, big.NewInt(300)))

	require.NoError(t, s.TransferTokenFrom(ctx, weth, engine, alice, bob, big.NewInt(200)))
	allowance, err := s.Allowance(ctx, weth, alice, engine)
	require.NoError(t, err)
	assert.Equal(t, "100", allowance.String())

	err = s.TransferTokenFrom(ctx, weth, engine, alice, bob, big.NewInt(101))
	assert.True(t, errors.Is(err, ErrInsufficientAllow))

	bal, err := s.TokenBalance(ctx, weth, bob)
	require.NoError(t, err)
	assert.Equal(t, "200", bal.String())
}

func TestDepositWithdraw(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	require.NoError(t, s.CreditNative(ctx, engine, big.NewInt(50)))
	require.NoError(t, s.Deposit(ctx, weth, engine, big.NewInt(30)))

	native, err := s.NativeBalance(ctx, engine)
	require.NoError(t, err)
	wrapped, err := s.TokenBalance(ctx, weth, engine)
	require.NoError(t, err)
	assert.Equal(t, "20", native.String())
	assert.Equal(t, "30", wrapped.String())

	require.NoError(t, s.Withdraw(ctx, weth, engine, big.NewInt(30)))
	native, err = s.NativeBalance(ctx, engine)
	require.NoError(t, err)
	assert.Equal(t, "50", native.String())

	assert.True(t, errors.Is(s.Withdraw(ctx, weth, engine, big.NewInt(1)), ErrInsufficientBalance))
}

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)
	require.NoError(t, s.CreditNative(ctx, alice, big.NewInt(100)))

	err := s.Transaction(ctx, func(tx *Store) error {
		if err := tx.TransferNative(ctx, alice, bob, big.NewInt(70)); err != nil {
			return err
		}
		return tx.TransferNative(ctx, alice, bob, big.NewInt(70))
	})
	require.True(t, errors.Is(err, ErrInsufficientBalance))

	bal, err := s.NativeBalance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "100", bal.String())
	bal, err = s.NativeBalance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, "0", bal.String())
}

func TestUniqueAssets(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)
	require.NoError(t, s.RegisterCollection(ctx, &model.Collection{Address: model.AddrKey(coll), SupportsUnique: true}))

	id := big.NewInt(7)
	require.NoError(t, s.MintUnique(ctx, coll, alice, id))
	assert.True(t, errors.Is(s.MintUnique(ctx, coll, bob, id), ErrAlreadyExists))

	assert.True(t, errors.Is(s.TransferUnique(ctx, coll, bob, alice, id), ErrNotOwner))
	require.NoError(t, s.TransferUnique(ctx, coll, alice, bob, id))

	owner, err := s.OwnerOf(ctx, coll, id)
	require.NoError(t, err)
	assert.Equal(t, bob, owner)

	_, err = s.OwnerOf(ctx, coll, big.NewInt(8))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFungibleAssets(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	id := big.NewInt(3)
	require.NoError(t, s.MintFungible(ctx, coll, alice, id, big.NewInt(10)))
	require.NoError(t, s.TransferFungible(ctx, coll, alice, bob, id, big.NewInt(4)))

	bal, err := s.BalanceOf(ctx, coll, id, alice)
	require.NoError(t, err)
	assert.Equal(t, "6", bal.String())

	err = s.TransferFungible(ctx, coll, alice, bob, id, big.NewInt(7))
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
}

func TestMarkUsed(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	used, err := s.IsUsed(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, used)

	require.NoError(t, s.MarkUsed(ctx, "order-1", "BuyExecuted"))
	used, err = s.IsUsed(ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, used)

	assert.True(t, errors.Is(s.MarkUsed(ctx, "order-1", "SaleExecuted"), ErrAlreadyUsed))
}

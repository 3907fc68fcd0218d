package service

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"nft_settlement/config"
	"nft_settlement/dao"
	"nft_settlement/model"
	"nft_settlement/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testChainID = 11155111

var (
	engineAddr   = common.HexToAddress("0x00000000000000000000000000000000000e0e0e")
	wethAddr     = common.HexToAddress("0x000000000000000000000000000000000000e7e7")
	platformAddr = common.HexToAddress("0x000000000000000000000000000000000000f1a7")
	taxAddr      = common.HexToAddress("0x0000000000000000000000000000000000007a8e")
	artistAddr   = common.HexToAddress("0x000000000000000000000000000000000000a777")
	ownerAddr    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	adminAddr    = common.HexToAddress("0x000000000000000000000000000000000000ad31")
	operatorAddr = common.HexToAddress("0x0000000000000000000000000000000000000b5e")
	strangerAddr = common.HexToAddress("0x0000000000000000000000000000000000005a5a")
	uniqueColl   = common.HexToAddress("0x0000000000000000000000000000000000c0721a")
	fungibleColl = common.HexToAddress("0x0000000000000000000000000000000000c01155")
	hybridColl   = common.HexToAddress("0x0000000000000000000000000000000000c0ffee")
)

type stubRoyalty struct {
	recipients []common.Address
	bps        []uint16
	hook       func(ctx context.Context)
}

func (s *stubRoyalty) GetRoyalty(ctx context.Context, _ common.Address, _ *big.Int) ([]common.Address, []uint16, error) {
	if s.hook != nil {
		s.hook(ctx)
	}
	return s.recipients, s.bps, nil
}

type stubOracle struct {
	price    *big.Int
	decimals uint8
}

func (s *stubOracle) GetLatestPrice(context.Context, common.Address) (*big.Int, uint8, error) {
	return s.price, s.decimals, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, event string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     *dao.Store
	engine    *Engine
	sellerKey *ecdsa.PrivateKey
	buyerKey  *ecdsa.PrivateKey
	seller    common.Address
	buyer     common.Address
	royalty   *stubRoyalty
	oracle    *stubOracle
	events    *recordingPublisher
	now       time.Time
}

func setupTestDB(t *testing.T) *dao.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, dao.AutoMigrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return dao.NewStore(db)
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	ctx := context.Background()
	store := setupTestDB(t)

	sellerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	buyerKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := &fixture{
		t:         t,
		ctx:       ctx,
		store:     store,
		sellerKey: sellerKey,
		buyerKey:  buyerKey,
		seller:    crypto.PubkeyToAddress(sellerKey.PublicKey),
		buyer:     crypto.PubkeyToAddress(buyerKey.PublicKey),
		royalty:   &stubRoyalty{recipients: []common.Address{artistAddr}, bps: []uint16{500}},
		oracle:    &stubOracle{price: big.NewInt(2000), decimals: 0},
		events:    &recordingPublisher{},
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, store.RegisterCollection(ctx, &model.Collection{Address: model.AddrKey(uniqueColl), SupportsUnique: true}))
	require.NoError(t, store.RegisterCollection(ctx, &model.Collection{Address: model.AddrKey(fungibleColl), SupportsFungible: true}))
	require.NoError(t, store.RegisterCollection(ctx, &model.Collection{Address: model.AddrKey(hybridColl), SupportsUnique: true, SupportsFungible: true}))

	opts := Options{
		ChainID:      testChainID,
		EngineAddr:   engineAddr,
		WrappedToken: wethAddr,
		Fees: model.FeeConfig{
			TaxRecipient:      taxAddr,
			PlatformRecipient: platformAddr,
			PlatformBps:       250,
		},
		Royalties:        f.royalty,
		RoyaltiesEnabled: true,
		Oracle:           f.oracle,
		Publisher:        f.events,
		Roles: Roles{
			Owner:     ownerAddr,
			Admins:    []common.Address{adminAddr},
			Operators: []common.Address{operatorAddr},
		},
		Now: func() time.Time { return f.now },
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.engine, err = NewEngine(store, opts)
	require.NoError(t, err)
	return f
}

// order 默认：卖家持有 uniqueColl#7，以原生币标价 1,000,000
func (f *fixture) order(id string) *model.Order {
	return &model.Order{
		ID:         id,
		TokenID:    big.NewInt(7),
		Collection: uniqueColl,
		Quantity:   big.NewInt(1),
		Owner:      f.seller,
		Price:      big.NewInt(1_000_000),
		Currency:   model.NativeCurrency,
		Buyer:      f.buyer,
	}
}

func (f *fixture) sign(o *model.Order, key *ecdsa.PrivateKey) []byte {
	sig, err := utils.SignOrder(o, big.NewInt(testChainID), key)
	require.NoError(f.t, err)
	return sig
}

func (f *fixture) mintUnique(to common.Address, id int64) {
	require.NoError(f.t, f.store.MintUnique(f.ctx, uniqueColl, to, big.NewInt(id)))
}

func (f *fixture) fundNative(addr common.Address, amount int64) {
	require.NoError(f.t, f.store.CreditNative(f.ctx, addr, big.NewInt(amount)))
}

// fundWeth 充值包装币并授权给引擎
func (f *fixture) fundWeth(addr common.Address, amount int64) {
	require.NoError(f.t, f.store.CreditToken(f.ctx, wethAddr, addr, big.NewInt(amount)))
	require.NoError(f.t, f.store.Approve(f.ctx, wethAddr, addr, engineAddr, big.NewInt(amount)))
}

func (f *fixture) native(addr common.Address) string {
	v, err := f.store.NativeBalance(f.ctx, addr)
	require.NoError(f.t, err)
	return v.String()
}

func (f *fixture) weth(addr common.Address) string {
	v, err := f.store.TokenBalance(f.ctx, wethAddr, addr)
	require.NoError(f.t, err)
	return v.String()
}

func (f *fixture) ownerOf(id int64) common.Address {
	owner, err := f.store.OwnerOf(f.ctx, uniqueColl, big.NewInt(id))
	require.NoError(f.t, err)
	return owner
}

func (f *fixture) used(orderID string) bool {
	used, err := f.store.IsUsed(f.ctx, orderID)
	require.NoError(f.t, err)
	return used
}

func TestNewEngineValidation(t *testing.T) {
	store := setupTestDB(t)
	base := Options{ChainID: 1, EngineAddr: engineAddr, WrappedToken: wethAddr}

	_, err := NewEngine(store, base)
	require.NoError(t, err)

	noChain := base
	noChain.ChainID = 0
	_, err = NewEngine(store, noChain)
	assert.Error(t, err)

	noWrapped := base
	noWrapped.WrappedToken = common.Address{}
	_, err = NewEngine(store, noWrapped)
	assert.Error(t, err)

	tooExpensive := base
	tooExpensive.Fees = model.FeeConfig{PlatformRecipient: platformAddr, PlatformBps: 6000, CommissionRecipient: taxAddr, CommissionBps: 4000}
	_, err = NewEngine(store, tooExpensive)
	assert.ErrorIs(t, err, ErrInvalidFeeConfig)

	missingRecipient := base
	missingRecipient.Fees = model.FeeConfig{PlatformBps: 100}
	_, err = NewEngine(store, missingRecipient)
	assert.ErrorIs(t, err, ErrInvalidFeeConfig)
}

func TestOptionsFromDefaultConfig(t *testing.T) {
	t.Setenv("ENGINE_ADDR", engineAddr.Hex())
	t.Setenv("WRAPPED_TOKEN_ADDR", wethAddr.Hex())
	cfg, err := config.Load()
	require.NoError(t, err)

	// 默认配置必须能直接启动引擎
	_, err = NewEngine(setupTestDB(t), OptionsFromConfig(cfg))
	require.NoError(t, err)

	cfg.PlatformFeeBps = 250
	assert.Error(t, cfg.Validate())
	_, err = NewEngine(setupTestDB(t), OptionsFromConfig(cfg))
	assert.ErrorIs(t, err, ErrInvalidFeeConfig)
}

func TestGetRoyaltyInfo(t *testing.T) {
	f := newFixture(t)
	recipients, bps, err := f.engine.GetRoyaltyInfo(f.ctx, uniqueColl, big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, []common.Address{artistAddr}, recipients)
	assert.Equal(t, []uint16{500}, bps)
}

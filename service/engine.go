package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"nft_settlement/config"
	"nft_settlement/dao"
	"nft_settlement/model"
	"nft_settlement/utils"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// 结算事件名
const (
	EventBuyExecuted        = "BuyExecuted"
	EventSaleExecuted       = "SaleExecuted"
	EventAuctionClosed      = "AuctionClosed"
	EventRoyaltyPayout      = "RoyaltyPayout"
	EventOfferCreated       = "OfferCreated"
	EventOfferAmountUpdated = "OfferAmountUpdated"
	EventOfferClosed        = "OfferClosed"
	EventOfferCanceled      = "OfferCanceled"
	EventSaleBought         = "SaleBought"
	EventSaleUpdated        = "SaleUpdated"
	EventSaleCanceled       = "SaleCanceled"
)

// Options 结算引擎配置
type Options struct {
	ChainID          int64
	EngineAddr       common.Address // 代币授权的spender，包装/解包时临时持有余额
	WrappedToken     common.Address
	Fees             model.FeeConfig
	Royalties        RoyaltyRegistry
	RoyaltiesEnabled bool
	Oracle           PriceOracle
	Publisher        EventPublisher
	Locker           Locker
	LockKey          string
	CalloutGrace     time.Duration // 外部调用期间到达的等待者最长等待，默认1秒
	Roles            Roles
	Probes           []Probe // 为空时使用默认探测顺序
	Now              func() time.Time
}

// OptionsFromConfig 由全局配置构建引擎参数
func OptionsFromConfig(cfg *config.Config) Options {
	roles := Roles{Owner: addrOrZero(cfg.Owner)}
	for _, a := range cfg.Admins {
		roles.Admins = append(roles.Admins, common.HexToAddress(a))
	}
	for _, o := range cfg.Operators {
		roles.Operators = append(roles.Operators, common.HexToAddress(o))
	}
	return Options{
		ChainID:      cfg.ChainID,
		EngineAddr:   common.HexToAddress(cfg.EngineAddr),
		WrappedToken: common.HexToAddress(cfg.WrappedToken),
		Fees: model.FeeConfig{
			TaxRecipient:        common.HexToAddress(cfg.TaxAddr),
			CommissionRecipient: common.HexToAddress(cfg.CommissionAddr),
			PlatformRecipient:   common.HexToAddress(cfg.PlatformFeeAddr),
			PlatformBps:         cfg.PlatformFeeBps,
			CommissionBps:       cfg.CommissionBps,
		},
		RoyaltiesEnabled: cfg.RoyaltiesEnabled,
		LockKey:          cfg.SettlementLockKey,
		Roles:            roles,
	}
}

func addrOrZero(s string) common.Address {
	if !common.IsHexAddress(s) {
		return common.Address{}
	}
	return common.HexToAddress(s)
}

// Engine 结算引擎
type Engine struct {
	store            *dao.Store
	chainID          *big.Int
	self             common.Address
	wrapped          common.Address
	fees             model.FeeConfig
	royalties        RoyaltyRegistry
	royaltiesEnabled bool
	oracle           PriceOracle
	publisher        EventPublisher
	caps             *Capabilities
	guard            *guard
	now              func() time.Time
}

// NewEngine 创建结算引擎
func NewEngine(store *dao.Store, opts Options) (*Engine, error) {
	if opts.ChainID <= 0 {
		return nil, errors.New("chain id required")
	}
	if opts.EngineAddr == (common.Address{}) {
		return nil, errors.New("engine address required")
	}
	if opts.WrappedToken == (common.Address{}) {
		return nil, errors.New("wrapped token required")
	}
	if err := validateFees(opts.Fees); err != nil {
		return nil, err
	}
	e := &Engine{
		store:            store,
		chainID:          big.NewInt(opts.ChainID),
		self:             opts.EngineAddr,
		wrapped:          opts.WrappedToken,
		fees:             opts.Fees,
		royalties:        opts.Royalties,
		royaltiesEnabled: opts.RoyaltiesEnabled,
		oracle:           opts.Oracle,
		publisher:        opts.Publisher,
		guard:            newGuard(opts.Locker, opts.LockKey, opts.CalloutGrace),
		now:              opts.Now,
	}
	if e.publisher == nil {
		e.publisher = nopPublisher{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if len(opts.Probes) > 0 {
		e.caps = NewCapabilities(opts.Probes...)
	} else {
		e.caps = defaultCapabilities(opts.Roles, store)
	}
	return e, nil
}

// validateFees 百分比费率之和必须小于100%，有费率则必须有接收方
func validateFees(f model.FeeConfig) error {
	if f.TotalBps() >= config.MaxBps {
		return withDetail(ErrInvalidFeeConfig, "fee rates sum to %d bps", f.TotalBps())
	}
	if f.PlatformBps > 0 && f.PlatformRecipient == (common.Address{}) {
		return withDetail(ErrInvalidFeeConfig, "platform recipient missing")
	}
	if f.CommissionBps > 0 && f.CommissionRecipient == (common.Address{}) {
		return withDetail(ErrInvalidFeeConfig, "commission recipient missing")
	}
	return nil
}

func (e *Engine) supportedCurrency(c common.Address) bool {
	return c == model.NativeCurrency || c == e.wrapped
}

// checkFunds 付款方余额（及代币授权）必须覆盖 amount
func (e *Engine) checkFunds(ctx context.Context, tx *dao.Store, payer, currency common.Address, amount *big.Int) error {
	if currency == model.NativeCurrency {
		bal, err := tx.NativeBalance(ctx, payer)
		if err != nil {
			return err
		}
		if bal.Cmp(amount) < 0 {
			return withDetail(ErrInsufficientBalance, "native balance %s < %s", bal, amount)
		}
		return nil
	}
	bal, err := tx.TokenBalance(ctx, currency, payer)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return withDetail(ErrInsufficientBalance, "token balance %s < %s", bal, amount)
	}
	allowance, err := tx.Allowance(ctx, currency, payer, e.self)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return withDetail(ErrInsufficientAllowance, "allowance %s < %s", allowance, amount)
	}
	return nil
}

// pendingEvent 事务提交后广播
type pendingEvent struct {
	name    string
	payload interface{}
}

func (e *Engine) publish(ctx context.Context, events []pendingEvent) {
	for _, ev := range events {
		err := e.guard.callout(func() error {
			return e.publisher.Publish(ctx, ev.name, ev.payload)
		})
		if err != nil {
			utils.Logger.Warn("事件广播失败", zap.String("event", ev.name), zap.Error(err))
		}
	}
}

// GetRoyaltyInfo 版税表只读透传
func (e *Engine) GetRoyaltyInfo(ctx context.Context, collection common.Address, tokenID *big.Int) ([]common.Address, []uint16, error) {
	if e.royalties == nil {
		return nil, nil, nil
	}
	recipients, bps, err := e.royalties.GetRoyalty(ctx, collection, tokenID)
	if err != nil {
		return nil, nil, fmt.Errorf("get royalty: %w", err)
	}
	return recipients, bps, nil
}

// GetSettlements 分页查询结算记录
func (e *Engine) GetSettlements(ctx context.Context, f dao.RecordFilter) ([]model.SettlementRecord, int64, error) {
	return e.store.ListSettlements(ctx, f)
}

// SettlementService 对外暴露的结算操作（HTTP层依赖此接口）
type SettlementService interface {
	Buy(ctx context.Context, caller common.Address, order *model.Order, sellerSig []byte, settlementCurrency common.Address) (*Settlement, error)
	Sell(ctx context.Context, caller common.Address, order *model.Order, buyerSig []byte, expiration time.Time, settlementCurrency common.Address) (*Settlement, error)
	ExecuteAuction(ctx context.Context, caller common.Address, order *model.Order, sellerSig, buyerSig []byte, settlementCurrency common.Address, bids []model.BidHistory) (*Settlement, error)
	CreateOffer(ctx context.Context, caller common.Address, req OfferRequest) (string, error)
	SetOfferAmount(ctx context.Context, caller common.Address, offerID string, currency common.Address, price *big.Int) error
	FillOffer(ctx context.Context, caller common.Address, offerID string, currency common.Address, price *big.Int) (*Settlement, error)
	CancelOffer(ctx context.Context, caller common.Address, offerID string) error
	CreateOrUpdateSale(ctx context.Context, caller common.Address, saleID string, listing SaleListing) error
	BuyFromSale(ctx context.Context, caller common.Address, list model.BuyList, tax *big.Int) ([]*big.Int, error)
	CancelSale(ctx context.Context, caller common.Address, saleID string) error
	GetRoyaltyInfo(ctx context.Context, collection common.Address, tokenID *big.Int) ([]common.Address, []uint16, error)
	GetSettlements(ctx context.Context, f dao.RecordFilter) ([]model.SettlementRecord, int64, error)
	RegisterCollection(ctx context.Context, caller common.Address, spec CollectionSpec) error
	CreditFunds(ctx context.Context, caller, currency, holder common.Address, amount *big.Int) error
	CreditAsset(ctx context.Context, caller, collection, holder common.Address, tokenID, amount *big.Int) error
	ApproveEngine(ctx context.Context, caller common.Address, amount *big.Int) error
	SetNativeAcceptance(ctx context.Context, caller common.Address, accept bool) error
}

var _ SettlementService = (*Engine)(nil)

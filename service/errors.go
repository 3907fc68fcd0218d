package service

import (
	"errors"
	"fmt"

	"nft_settlement/dao"
)

// ErrorKind 错误分类
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindAuthorization
	KindValidation
	KindReplay
	KindFunds
	KindSignature
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindReplay:
		return "replay"
	case KindFunds:
		return "funds"
	case KindSignature:
		return "signature"
	default:
		return "internal"
	}
}

// SettlementError 带稳定错误码的业务错误，errors.Is 按 Code 比较
type SettlementError struct {
	Kind ErrorKind
	Code string
	Msg  string
	Err  error
}

func (e *SettlementError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return e.Code + ": " + e.Msg
}

func (e *SettlementError) Unwrap() error { return e.Err }

func (e *SettlementError) Is(target error) bool {
	t, ok := target.(*SettlementError)
	return ok && t.Code == e.Code
}

func newErr(kind ErrorKind, code, msg string) *SettlementError {
	return &SettlementError{Kind: kind, Code: code, Msg: msg}
}

var (
	ErrNotBuyer                = newErr(KindAuthorization, "NOT_BUYER", "caller is not the order buyer")
	ErrNotSeller               = newErr(KindAuthorization, "NOT_SELLER", "caller is not the order seller")
	ErrNotAuctionParty         = newErr(KindAuthorization, "NOT_AUCTION_PARTY", "caller is neither auction party nor operator")
	ErrNotAllowedBuyer         = newErr(KindAuthorization, "NOT_ALLOWED_BUYER", "buyer is not the allow-listed buyer")
	ErrNotOfferMaker           = newErr(KindAuthorization, "NOT_OFFER_MAKER", "caller is not the offer maker")
	ErrNotOfferParty           = newErr(KindAuthorization, "NOT_OFFER_PARTY", "caller is neither offer maker nor asset owner")
	ErrNotOfferOwner           = newErr(KindAuthorization, "NOT_OFFER_OWNER", "caller is not the asset owner of the offer")
	ErrNotAdmin                = newErr(KindAuthorization, "NOT_ADMIN", "caller may not manage sales")
	ErrNotLedgerAdmin          = newErr(KindAuthorization, "NOT_LEDGER_ADMIN", "caller may not manage the ledger")
	ErrOperatorNativeForbidden = newErr(KindAuthorization, "OPERATOR_NATIVE_FORBIDDEN", "operator may only close auctions in wrapped currency")

	ErrInvalidOrder        = newErr(KindValidation, "INVALID_ORDER", "malformed order")
	ErrUnsupportedAsset    = newErr(KindValidation, "UNSUPPORTED_ASSET", "collection must support exactly one asset interface")
	ErrUnsupportedCurrency = newErr(KindValidation, "UNSUPPORTED_CURRENCY", "currency must be native or the wrapped token")
	ErrNativePayerMismatch = newErr(KindValidation, "NATIVE_PAYER_MISMATCH", "native currency can only be paid by the caller")
	ErrPriceBelowFairValue = newErr(KindValidation, "PRICE_BELOW_FAIR_VALUE", "quoted fiat price below oracle fair value")
	ErrExpired             = newErr(KindValidation, "EXPIRED", "expiration time has passed")
	ErrCapExceeded         = newErr(KindValidation, "CAP_EXCEEDED", "sale cap exceeded")
	ErrInvalidFeeConfig    = newErr(KindValidation, "INVALID_FEE_CONFIG", "invalid fee configuration")
	ErrInvalidRoyalty      = newErr(KindValidation, "INVALID_ROYALTY_SCHEDULE", "royalty recipients and basis points differ in length")
	ErrNotOwner            = newErr(KindValidation, "NOT_OWNER", "declared owner does not own the asset")
	ErrInsufficientAsset   = newErr(KindValidation, "INSUFFICIENT_ASSET", "owner balance below requested quantity")
	ErrOfferNotFound       = newErr(KindValidation, "OFFER_NOT_FOUND", "offer does not exist")
	ErrOfferMismatch       = newErr(KindValidation, "OFFER_MISMATCH", "offer currency or price changed")
	ErrSaleNotFound        = newErr(KindValidation, "SALE_NOT_FOUND", "sale does not exist")
	ErrSaleInactive        = newErr(KindValidation, "SALE_INACTIVE", "sale is cancelled")
	ErrInvalidSale         = newErr(KindValidation, "INVALID_SALE", "invalid sale listing")
	ErrInvalidLedgerEntry  = newErr(KindValidation, "INVALID_LEDGER_ENTRY", "invalid ledger entry")
	ErrOracleUnavailable   = newErr(KindValidation, "ORACLE_UNAVAILABLE", "price oracle not configured")
	ErrAssetExists         = newErr(KindValidation, "ASSET_EXISTS", "asset id already minted")

	ErrOrderUsed = newErr(KindReplay, "ORDER_USED", "order id already used")

	ErrInsufficientBalance   = newErr(KindFunds, "INSUFFICIENT_BALANCE", "payer balance below price plus tax")
	ErrInsufficientAllowance = newErr(KindFunds, "INSUFFICIENT_ALLOWANCE", "payer allowance below price plus tax")
	ErrNativeTransferFailed  = newErr(KindFunds, "NATIVE_TRANSFER_FAILED", "native transfer failed")
	ErrRoyaltyInsolvent      = newErr(KindFunds, "ROYALTY_INSOLVENT", "royalty schedule exceeds remaining amount")

	ErrBadSignature       = newErr(KindSignature, "BAD_SIGNATURE", "signature does not match expected signer")
	ErrMalformedSignature = newErr(KindSignature, "MALFORMED_SIGNATURE", "signature cannot be recovered")

	ErrReentrantCall = newErr(KindValidation, "REENTRANT_CALL", "nested settlement call rejected")
)

// withDetail 复制基础错误并附加细节
func withDetail(base *SettlementError, format string, args ...interface{}) *SettlementError {
	return &SettlementError{Kind: base.Kind, Code: base.Code, Msg: base.Msg + ": " + fmt.Sprintf(format, args...)}
}

// wrapErr 复制基础错误并包装原因
func wrapErr(base *SettlementError, cause error) *SettlementError {
	return &SettlementError{Kind: base.Kind, Code: base.Code, Msg: base.Msg, Err: cause}
}

// KindOf 返回错误分类，非业务错误为 KindInternal
func KindOf(err error) ErrorKind {
	var se *SettlementError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// fromStore 把存储层错误映射为业务错误
func fromStore(err error) error {
	if err == nil {
		return nil
	}
	var se *SettlementError
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, dao.ErrInsufficientBalance):
		return wrapErr(ErrInsufficientBalance, err)
	case errors.Is(err, dao.ErrInsufficientAllow):
		return wrapErr(ErrInsufficientAllowance, err)
	case errors.Is(err, dao.ErrNativeRejected):
		return wrapErr(ErrNativeTransferFailed, err)
	case errors.Is(err, dao.ErrNotOwner):
		return wrapErr(ErrNotOwner, err)
	case errors.Is(err, dao.ErrAlreadyExists):
		return wrapErr(ErrAssetExists, err)
	case errors.Is(err, dao.ErrAlreadyUsed):
		return wrapErr(ErrOrderUsed, err)
	}
	return err
}

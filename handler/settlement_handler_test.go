package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"nft_settlement/dao"
	"nft_settlement/model"
	"nft_settlement/service"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	callerHex = "0x00000000000000000000000000000000000b0b0b"
	sellerHex = "0x00000000000000000000000000000000000a11ce"
	collHex   = "0x0000000000000000000000000000000000c0721a"
)

// stubService 只实现测试用到的方法，其余调用会因接口为nil而panic
type stubService struct {
	service.SettlementService

	err       error
	order     *model.Order
	sig       []byte
	caller    common.Address
	buyList   model.BuyList
	buyTax    *big.Int
	filter    dao.RecordFilter
	buyCalled bool

	credited   bool
	collection common.Address
	holder     common.Address
	tokenID    *big.Int
	amount     *big.Int
}

func (s *stubService) CreditFunds(_ context.Context, caller, currency, holder common.Address, amount *big.Int) error {
	s.credited = true
	s.caller, s.collection, s.holder, s.amount = caller, currency, holder, amount
	return s.err
}

func (s *stubService) CreditAsset(_ context.Context, caller, collection, holder common.Address, tokenID, amount *big.Int) error {
	s.credited = true
	s.caller, s.collection, s.holder, s.tokenID, s.amount = caller, collection, holder, tokenID, amount
	return s.err
}

func (s *stubService) Buy(_ context.Context, caller common.Address, order *model.Order, sellerSig []byte, currency common.Address) (*service.Settlement, error) {
	s.caller, s.order, s.sig = caller, order, sellerSig
	if s.err != nil {
		return nil, s.err
	}
	return &service.Settlement{RecordID: "rec-1", Event: service.EventBuyExecuted, Order: order, SettlementCurrency: currency}, nil
}

func (s *stubService) CancelOffer(_ context.Context, caller common.Address, _ string) error {
	s.caller = caller
	return s.err
}

func (s *stubService) BuyFromSale(_ context.Context, _ common.Address, list model.BuyList, tax *big.Int) ([]*big.Int, error) {
	s.buyCalled = true
	s.buyList, s.buyTax = list, tax
	return []*big.Int{big.NewInt(100), big.NewInt(101)}, s.err
}

func (s *stubService) GetSettlements(_ context.Context, f dao.RecordFilter) ([]model.SettlementRecord, int64, error) {
	s.filter = f
	return []model.SettlementRecord{{ID: "rec-1", Event: service.EventBuyExecuted}}, 1, nil
}

func newTestRouter(svc service.SettlementService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewSettlementHandler(svc).RegisterRoutes(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path, caller string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestMissingCallerHeader(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(svc)

	code, _ := do(t, r, http.MethodDelete, "/api/v1/offers/o-1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, r, http.MethodDelete, "/api/v1/offers/o-1", "not-an-address", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		reason string
	}{
		{service.ErrNotOfferParty, http.StatusForbidden, "NOT_OFFER_PARTY"},
		{service.ErrOfferNotFound, http.StatusBadRequest, "OFFER_NOT_FOUND"},
		{service.ErrOrderUsed, http.StatusConflict, "ORDER_USED"},
		{service.ErrInsufficientAllowance, http.StatusPaymentRequired, "INSUFFICIENT_ALLOWANCE"},
		{service.ErrBadSignature, http.StatusUnauthorized, "BAD_SIGNATURE"},
		{service.ErrReentrantCall, http.StatusBadRequest, "REENTRANT_CALL"},
		{errors.New("db down"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		svc := &stubService{err: tc.err}
		code, resp := do(t, newTestRouter(svc), http.MethodDelete, "/api/v1/offers/o-1", callerHex, nil)
		assert.Equal(t, tc.status, code, tc.err.Error())
		assert.Equal(t, float64(tc.status), resp["code"])
		if tc.reason == "" {
			assert.Nil(t, resp["data"])
			continue
		}
		data, ok := resp["data"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, tc.reason, data["reason"])
	}
}

func TestBuyParsesOrder(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(svc)

	body := gin.H{
		"order": gin.H{
			"id":         "order-1",
			"token_id":   "7",
			"collection": collHex,
			"owner":      sellerHex,
			"price":      "1000000000000000000000",
			"buyer":      callerHex,
		},
		"seller_signature": "0x0102",
	}
	code, resp := do(t, r, http.MethodPost, "/api/v1/orders/buy", callerHex, body)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", resp["msg"])
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "rec-1", data["record_id"])

	require.NotNil(t, svc.order)
	assert.Equal(t, common.HexToAddress(callerHex), svc.caller)
	assert.Equal(t, "1000000000000000000000", svc.order.Price.String())
	assert.Equal(t, "1", svc.order.Quantity.String())
	assert.Equal(t, model.NativeCurrency, svc.order.Currency)
	assert.Nil(t, svc.order.FiatPrice)
	assert.Equal(t, []byte{1, 2}, svc.sig)
}

func TestBuyRejectsBadInput(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(svc)

	order := gin.H{
		"id":         "order-1",
		"token_id":   "7",
		"collection": collHex,
		"owner":      sellerHex,
		"price":      "-5",
		"buyer":      callerHex,
	}
	code, _ := do(t, r, http.MethodPost, "/api/v1/orders/buy", callerHex, gin.H{"order": order, "seller_signature": "0x01"})
	assert.Equal(t, http.StatusBadRequest, code)

	order["price"] = "10"
	code, _ = do(t, r, http.MethodPost, "/api/v1/orders/buy", callerHex, gin.H{"order": order, "seller_signature": "zz"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, r, http.MethodPost, "/api/v1/orders/buy", callerHex, gin.H{"order": order})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Nil(t, svc.order)
}

func TestBuyFromSale(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(svc)

	code, _ := do(t, r, http.MethodPost, "/api/v1/sales/drop/buy", callerHex, gin.H{"quantity": "2", "tax": "1.5"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, svc.buyCalled)

	code, resp := do(t, r, http.MethodPost, "/api/v1/sales/drop/buy", callerHex, gin.H{"quantity": "2", "tax": "3"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "drop", svc.buyList.SaleID)
	assert.Equal(t, common.HexToAddress(callerHex), svc.buyList.Buyer)
	assert.Equal(t, "2", svc.buyList.Quantity.String())
	assert.Equal(t, "3", svc.buyTax.String())

	data := resp["data"].(map[string]interface{})
	assert.Equal(t, []interface{}{"100", "101"}, data["token_ids"])
}

func TestBuyFromSaleRejectsEmptyTokenID(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(svc)

	code, _ := do(t, r, http.MethodPost, "/api/v1/sales/stock/buy", callerHex, gin.H{"token_ids": []string{""}, "quantity": "2"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, svc.buyCalled)
}

func TestAdminCredits(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(svc)

	code, _ := do(t, r, http.MethodPost, "/api/v1/admin/funds", callerHex, gin.H{"holder": sellerHex, "amount": ""})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, svc.credited)

	code, resp := do(t, r, http.MethodPost, "/api/v1/admin/funds", callerHex, gin.H{"holder": sellerHex, "amount": "2000000"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, common.HexToAddress(callerHex), svc.caller)
	assert.Equal(t, model.NativeCurrency, svc.collection)
	assert.Equal(t, common.HexToAddress(sellerHex), svc.holder)
	assert.Equal(t, "2000000", svc.amount.String())
	assert.Equal(t, "2000000", resp["data"].(map[string]interface{})["amount"])

	// 唯一资产不传数量时按1处理
	code, _ = do(t, r, http.MethodPost, "/api/v1/admin/collections/"+collHex+"/assets", callerHex, gin.H{"holder": sellerHex, "token_id": "7"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, common.HexToAddress(collHex), svc.collection)
	assert.Equal(t, "7", svc.tokenID.String())
	assert.Equal(t, "1", svc.amount.String())

	svc.err = service.ErrNotLedgerAdmin
	code, resp = do(t, r, http.MethodPost, "/api/v1/admin/funds", callerHex, gin.H{"holder": sellerHex, "amount": "1"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "NOT_LEDGER_ADMIN", resp["data"].(map[string]interface{})["reason"])
}

func TestGetSettlementsFilter(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(svc)

	code, resp := do(t, r, http.MethodGet, "/api/v1/settlements?user_addr="+callerHex+"&event=BuyExecuted", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.AddrKey(common.HexToAddress(callerHex)), svc.filter.UserAddr)
	assert.Equal(t, "BuyExecuted", svc.filter.Event)
	assert.Equal(t, 1, svc.filter.Page)
	assert.Equal(t, 10, svc.filter.PageSize)

	data := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["total"])

	code, _ = do(t, r, http.MethodGet, "/api/v1/settlements?collection=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

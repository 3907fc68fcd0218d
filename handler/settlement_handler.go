package handler

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"nft_settlement/dao"
	"nft_settlement/model"
	"nft_settlement/service"
	"nft_settlement/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CallerHeader 网关写入的调用方地址
const CallerHeader = "X-Caller-Address"

// SettlementHandler 结算处理器
type SettlementHandler struct {
	svc service.SettlementService
}

// NewSettlementHandler 创建结算处理器
func NewSettlementHandler(svc service.SettlementService) *SettlementHandler {
	return &SettlementHandler{svc: svc}
}

// RegisterRoutes 注册路由
func (h *SettlementHandler) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/api/v1")
	{
		v1.POST("/orders/buy", h.Buy)                  // 买家凭卖家签名购买
		v1.POST("/orders/sell", h.Sell)                // 卖家凭买家签名出售
		v1.POST("/auctions/execute", h.ExecuteAuction) // 拍卖结算
		v1.POST("/offers", h.CreateOffer)              // 创建报价
		v1.PUT("/offers/:id", h.SetOfferAmount)        // 修改报价
		v1.POST("/offers/:id/fill", h.FillOffer)       // 接受报价
		v1.DELETE("/offers/:id", h.CancelOffer)        // 取消报价
		v1.PUT("/sales/:id", h.CreateOrUpdateSale)     // 创建/更新批量销售
		v1.POST("/sales/:id/buy", h.BuyFromSale)       // 批量购买
		v1.DELETE("/sales/:id", h.CancelSale)          // 取消批量销售
		v1.GET("/royalty/:collection/:tokenId", h.GetRoyaltyInfo)
		v1.GET("/settlements", h.GetSettlements) // 查询结算记录

		v1.PUT("/accounts/approval", h.ApproveEngine)                // 授权引擎动用包装币
		v1.PUT("/accounts/native-acceptance", h.SetNativeAcceptance) // 是否接收原生币
	}

	// 账本管理：登记资产合约、同步链上充值与托管资产（需要账本管理权限）
	admin := r.Group("/api/v1/admin")
	{
		admin.PUT("/collections/:collection", h.RegisterCollection)
		admin.POST("/funds", h.CreditFunds)
		admin.POST("/collections/:collection/assets", h.CreditAsset)
	}
}

// Buy 买家购买
func (h *SettlementHandler) Buy(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req BuyReq
	if !bind(c, &req) {
		return
	}
	order, err := req.Order.toOrder()
	if err != nil {
		badRequest(c, err)
		return
	}
	sig, err := decodeSig("seller_signature", req.SellerSignature)
	if err != nil {
		badRequest(c, err)
		return
	}
	currency, err := parseAddr("settlement_currency", req.SettlementCurrency)
	if err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.svc.Buy(c.Request.Context(), caller, order, sig, currency)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, res)
}

// Sell 卖家出售
func (h *SettlementHandler) Sell(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req SellReq
	if !bind(c, &req) {
		return
	}
	order, err := req.Order.toOrder()
	if err != nil {
		badRequest(c, err)
		return
	}
	sig, err := decodeSig("buyer_signature", req.BuyerSignature)
	if err != nil {
		badRequest(c, err)
		return
	}
	currency, err := parseAddr("settlement_currency", req.SettlementCurrency)
	if err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.svc.Sell(c.Request.Context(), caller, order, sig, time.Unix(req.Expiration, 0), currency)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, res)
}

// ExecuteAuction 拍卖结算
func (h *SettlementHandler) ExecuteAuction(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req AuctionReq
	if !bind(c, &req) {
		return
	}
	order, err := req.Order.toOrder()
	if err != nil {
		badRequest(c, err)
		return
	}
	sellerSig, err := decodeSig("seller_signature", req.SellerSignature)
	if err != nil {
		badRequest(c, err)
		return
	}
	buyerSig, err := decodeSig("buyer_signature", req.BuyerSignature)
	if err != nil {
		badRequest(c, err)
		return
	}
	currency, err := parseAddr("settlement_currency", req.SettlementCurrency)
	if err != nil {
		badRequest(c, err)
		return
	}
	bids, err := toBids(req.Bids)
	if err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.svc.ExecuteAuction(c.Request.Context(), caller, order, sellerSig, buyerSig, currency, bids)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, res)
}

// CreateOffer 创建报价
func (h *SettlementHandler) CreateOffer(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req OfferReq
	if !bind(c, &req) {
		return
	}
	offer, err := req.toRequest()
	if err != nil {
		badRequest(c, err)
		return
	}

	offerID, err := h.svc.CreateOffer(c.Request.Context(), caller, offer)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"offer_id": offerID})
}

// SetOfferAmount 修改报价
func (h *SettlementHandler) SetOfferAmount(c *gin.Context) {
	caller, currency, price, ok := h.offerAmount(c)
	if !ok {
		return
	}
	if err := h.svc.SetOfferAmount(c.Request.Context(), caller, c.Param("id"), currency, price); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"offer_id": c.Param("id")})
}

// FillOffer 接受报价
func (h *SettlementHandler) FillOffer(c *gin.Context) {
	caller, currency, price, ok := h.offerAmount(c)
	if !ok {
		return
	}
	res, err := h.svc.FillOffer(c.Request.Context(), caller, c.Param("id"), currency, price)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, res)
}

func (h *SettlementHandler) offerAmount(c *gin.Context) (common.Address, common.Address, *big.Int, bool) {
	caller, ok := callerOf(c)
	if !ok {
		return common.Address{}, common.Address{}, nil, false
	}
	var req OfferAmountReq
	if !bind(c, &req) {
		return common.Address{}, common.Address{}, nil, false
	}
	p := parser{}
	currency := p.addr("currency", req.Currency)
	price := p.amount("price", req.Price)
	if p.err != nil {
		badRequest(c, p.err)
		return common.Address{}, common.Address{}, nil, false
	}
	return caller, currency, price, true
}

// CancelOffer 取消报价
func (h *SettlementHandler) CancelOffer(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	if err := h.svc.CancelOffer(c.Request.Context(), caller, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"offer_id": c.Param("id")})
}

// CreateOrUpdateSale 创建/更新批量销售
func (h *SettlementHandler) CreateOrUpdateSale(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req SaleReq
	if !bind(c, &req) {
		return
	}
	listing, err := req.toListing()
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.CreateOrUpdateSale(c.Request.Context(), caller, c.Param("id"), listing); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"sale_id": c.Param("id")})
}

// BuyFromSale 批量购买，买家即调用方
func (h *SettlementHandler) BuyFromSale(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req SaleBuyReq
	if !bind(c, &req) {
		return
	}
	p := parser{}
	list := model.BuyList{
		SaleID:   c.Param("id"),
		Buyer:    caller,
		Quantity: p.amount("quantity", req.Quantity),
		Currency: p.addr("currency", req.Currency),
	}
	for _, id := range req.TokenIDs {
		list.TokenIDs = append(list.TokenIDs, p.requiredAmount("token_ids", id))
	}
	tax := p.amount("tax", req.Tax)
	if p.err != nil {
		badRequest(c, p.err)
		return
	}

	ids, err := h.svc.BuyFromSale(c.Request.Context(), caller, list, tax)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	success(c, gin.H{"token_ids": out})
}

// CancelSale 取消批量销售
func (h *SettlementHandler) CancelSale(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	if err := h.svc.CancelSale(c.Request.Context(), caller, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"sale_id": c.Param("id")})
}

// GetRoyaltyInfo 查询版税表
func (h *SettlementHandler) GetRoyaltyInfo(c *gin.Context) {
	p := parser{}
	collection := p.addr("collection", c.Param("collection"))
	tokenID := p.amount("tokenId", c.Param("tokenId"))
	if p.err != nil {
		badRequest(c, p.err)
		return
	}

	recipients, bps, err := h.svc.GetRoyaltyInfo(c.Request.Context(), collection, tokenID)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"recipients": recipients, "bps": bps})
}

// GetSettlements 查询结算记录
func (h *SettlementHandler) GetSettlements(c *gin.Context) {
	// 解析查询参数
	page, _ := strconv.Atoi(c.Query("page"))
	if page <= 0 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.Query("page_size"))
	if pageSize <= 0 {
		pageSize = 10
	}

	p := parser{}
	f := dao.RecordFilter{
		Event:    c.Query("event"),
		Page:     page,
		PageSize: pageSize,
	}
	if v := c.Query("user_addr"); v != "" {
		f.UserAddr = model.AddrKey(p.addr("user_addr", v))
	}
	if v := c.Query("collection"); v != "" {
		f.Collection = model.AddrKey(p.addr("collection", v))
	}
	if p.err != nil {
		badRequest(c, p.err)
		return
	}

	records, total, err := h.svc.GetSettlements(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{
		"list":      records,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// RegisterCollection 登记资产合约
func (h *SettlementHandler) RegisterCollection(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req CollectionReq
	if !bind(c, &req) {
		return
	}
	p := parser{}
	spec := service.CollectionSpec{
		Address:          p.addr("collection", c.Param("collection")),
		SupportsUnique:   req.SupportsUnique,
		SupportsFungible: req.SupportsFungible,
		Owner:            p.addr("owner", req.Owner),
	}
	if p.err != nil {
		badRequest(c, p.err)
		return
	}
	if err := h.svc.RegisterCollection(c.Request.Context(), caller, spec); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"collection": spec.Address})
}

// CreditFunds 充值入账
func (h *SettlementHandler) CreditFunds(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req FundsCreditReq
	if !bind(c, &req) {
		return
	}
	p := parser{}
	currency := p.addr("currency", req.Currency)
	holder := p.addr("holder", req.Holder)
	amount := p.requiredAmount("amount", req.Amount)
	if p.err != nil {
		badRequest(c, p.err)
		return
	}
	if err := h.svc.CreditFunds(c.Request.Context(), caller, currency, holder, amount); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"holder": holder, "amount": amount.String()})
}

// CreditAsset 托管资产入账，amount 为空时按1处理
func (h *SettlementHandler) CreditAsset(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req AssetCreditReq
	if !bind(c, &req) {
		return
	}
	p := parser{}
	collection := p.addr("collection", c.Param("collection"))
	holder := p.addr("holder", req.Holder)
	tokenID := p.requiredAmount("token_id", req.TokenID)
	amount := p.amount("amount", req.Amount)
	if p.err != nil {
		badRequest(c, p.err)
		return
	}
	if amount == nil {
		amount = big.NewInt(1)
	}
	if err := h.svc.CreditAsset(c.Request.Context(), caller, collection, holder, tokenID, amount); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"collection": collection, "token_id": tokenID.String(), "amount": amount.String()})
}

// ApproveEngine 调用方授权引擎
func (h *SettlementHandler) ApproveEngine(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req ApprovalReq
	if !bind(c, &req) {
		return
	}
	p := parser{}
	amount := p.requiredAmount("amount", req.Amount)
	if p.err != nil {
		badRequest(c, p.err)
		return
	}
	if err := h.svc.ApproveEngine(c.Request.Context(), caller, amount); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"amount": amount.String()})
}

// SetNativeAcceptance 调用方设置是否接收原生币
func (h *SettlementHandler) SetNativeAcceptance(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req NativeAcceptanceReq
	if !bind(c, &req) {
		return
	}
	if err := h.svc.SetNativeAcceptance(c.Request.Context(), caller, *req.Accept); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"accept": *req.Accept})
}

func callerOf(c *gin.Context) (common.Address, bool) {
	v := c.GetHeader(CallerHeader)
	if !common.IsHexAddress(v) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code": http.StatusUnauthorized,
			"msg":  "missing or invalid " + CallerHeader,
		})
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		utils.Logger.Error("参数绑定失败", zap.Error(err))
		badRequest(c, err)
		return false
	}
	return true
}

func parseAddr(field, s string) (common.Address, error) {
	p := parser{}
	a := p.addr(field, s)
	return a, p.err
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code": http.StatusBadRequest,
		"msg":  err.Error(),
	})
}

// fail 业务错误按分类映射HTTP状态码，data.reason 为稳定错误码
func fail(c *gin.Context, err error) {
	status := statusOf(service.KindOf(err))
	if status == http.StatusInternalServerError {
		utils.Logger.Error("请求处理失败", zap.String("path", c.FullPath()), zap.Error(err))
	}
	resp := gin.H{
		"code": status,
		"msg":  err.Error(),
	}
	var se *service.SettlementError
	if errors.As(err, &se) {
		resp["data"] = gin.H{"reason": se.Code}
	}
	c.JSON(status, resp)
}

func statusOf(kind service.ErrorKind) int {
	switch kind {
	case service.KindAuthorization:
		return http.StatusForbidden
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindReplay:
		return http.StatusConflict
	case service.KindFunds:
		return http.StatusPaymentRequired
	case service.KindSignature:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"code": 200,
		"msg":  "success",
		"data": data,
	})
}

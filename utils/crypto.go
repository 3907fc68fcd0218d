package utils

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"nft_settlement/model"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrMalformedSignature 签名格式错误或无法恢复公钥
var ErrMalformedSignature = errors.New("malformed signature")

// OrderDigest 订单规范摘要：keccak256(packed 字段 + chainID) 再加 EIP-191 前缀
// chainID 必须参与摘要，否则同一签名可在其他网络重放
func OrderDigest(o *model.Order, chainID *big.Int) common.Hash {
	var buf bytes.Buffer
	buf.WriteString(o.ID)
	buf.Write(u256(o.TokenID))
	buf.Write(o.Collection.Bytes())
	buf.Write(u256(o.Quantity))
	buf.Write(o.Owner.Bytes())
	buf.Write(u256(o.Price))
	buf.Write(o.Currency.Bytes())
	buf.Write(u256(chainID))
	inner := crypto.Keccak256(buf.Bytes())
	return common.BytesToHash(accounts.TextHash(inner))
}

func u256(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	// U256Bytes 会原地修改参数
	return math.U256Bytes(new(big.Int).Set(v))
}

// SignOrder 使用私钥签名订单，v 取 27/28（与钱包一致）
func SignOrder(o *model.Order, chainID *big.Int, key *ecdsa.PrivateKey) ([]byte, error) {
	digest := OrderDigest(o, chainID)
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverSigner 从签名恢复签名者地址
func RecoverSigner(o *model.Order, chainID *big.Int, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrMalformedSignature, len(signature))
	}
	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("%w: bad recovery id", ErrMalformedSignature)
	}
	digest := OrderDigest(o, chainID)
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature 验证签名是否来自expected
// 格式错误返回 ErrMalformedSignature，与“签名者不匹配”(false, nil) 区分
func VerifySignature(o *model.Order, chainID *big.Int, signature []byte, expected common.Address) (bool, error) {
	signer, err := RecoverSigner(o, chainID, signature)
	if err != nil {
		return false, err
	}
	return signer == expected, nil
}

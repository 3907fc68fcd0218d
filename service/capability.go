package service

import (
	"context"
	"errors"

	"nft_settlement/dao"

	"github.com/ethereum/go-ethereum/common"
)

// Permission 调用方权限
type Permission uint8

const (
	PermManageSales  Permission = 1 << iota // 创建/更新/取消批量销售
	PermCloseAuction                        // 以操作员身份结算拍卖
	PermManageLedger                        // 登记资产合约、同步链上充值与托管资产
)

var allPermissions = []Permission{PermManageSales, PermCloseAuction, PermManageLedger}

// Permissions 权限集合
type Permissions uint8

func (p Permissions) Has(perm Permission) bool {
	return uint8(p)&uint8(perm) != 0
}

// ProbeResult 单个探测的结论
type ProbeResult int

const (
	ProbeUnsupported ProbeResult = iota // 该探测无法判断，交给下一个
	ProbeNo
	ProbeYes
)

// Probe 权限探测，按顺序执行，第一个明确结论生效
type Probe interface {
	Check(ctx context.Context, caller common.Address, perm Permission, collection common.Address) (ProbeResult, error)
}

// Roles 部署级角色
type Roles struct {
	Owner     common.Address
	Admins    []common.Address
	Operators []common.Address
}

// ownerProbe 部署所有者拥有全部权限
type ownerProbe struct{ owner common.Address }

func (p ownerProbe) Check(_ context.Context, caller common.Address, _ Permission, _ common.Address) (ProbeResult, error) {
	if p.owner != (common.Address{}) && caller == p.owner {
		return ProbeYes, nil
	}
	return ProbeUnsupported, nil
}

// roleProbe 管理员可管理销售和账本，操作员可结算拍卖
type roleProbe struct {
	admins    map[common.Address]bool
	operators map[common.Address]bool
}

func (p roleProbe) Check(_ context.Context, caller common.Address, perm Permission, _ common.Address) (ProbeResult, error) {
	switch perm {
	case PermManageSales, PermManageLedger:
		if p.admins[caller] {
			return ProbeYes, nil
		}
	case PermCloseAuction:
		if p.operators[caller] {
			return ProbeYes, nil
		}
	}
	return ProbeUnsupported, nil
}

// collectionOwnerProbe 资产合约所有者可管理本合约的销售
type collectionOwnerProbe struct{ store *dao.Store }

func (p collectionOwnerProbe) Check(ctx context.Context, caller common.Address, perm Permission, collection common.Address) (ProbeResult, error) {
	if perm != PermManageSales || collection == (common.Address{}) {
		return ProbeUnsupported, nil
	}
	c, err := p.store.Collection(ctx, collection)
	if errors.Is(err, dao.ErrNotFound) {
		return ProbeUnsupported, nil
	}
	if err != nil {
		return ProbeUnsupported, err
	}
	if c.Owner == "" {
		return ProbeUnsupported, nil
	}
	if common.HexToAddress(c.Owner) == caller {
		return ProbeYes, nil
	}
	return ProbeNo, nil
}

// Capabilities 权限解析器
type Capabilities struct {
	probes []Probe
}

// NewCapabilities 按顺序组合探测
func NewCapabilities(probes ...Probe) *Capabilities {
	return &Capabilities{probes: probes}
}

func defaultCapabilities(roles Roles, store *dao.Store) *Capabilities {
	rp := roleProbe{admins: map[common.Address]bool{}, operators: map[common.Address]bool{}}
	for _, a := range roles.Admins {
		rp.admins[a] = true
	}
	for _, o := range roles.Operators {
		rp.operators[o] = true
	}
	return NewCapabilities(ownerProbe{owner: roles.Owner}, rp, collectionOwnerProbe{store: store})
}

// Resolve 每个操作只解析一次，返回调用方拥有的全部权限
func (c *Capabilities) Resolve(ctx context.Context, caller common.Address, collection common.Address) (Permissions, error) {
	var granted Permissions
	for _, perm := range allPermissions {
		for _, probe := range c.probes {
			res, err := probe.Check(ctx, caller, perm, collection)
			if err != nil {
				return 0, err
			}
			if res == ProbeUnsupported {
				continue
			}
			if res == ProbeYes {
				granted |= Permissions(perm)
			}
			break
		}
	}
	return granted, nil
}

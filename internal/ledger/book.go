package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Side 表示持仓方向。
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// OrderSide 表示下单方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite 返回相反的下单方向。
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Position 表示单一标的的净持仓。同一标的同时最多存在一个仓位，
// 数量恒为正，方向由 Side 表达。
type Position struct {
	Symbol     string
	Side       Side
	Size       float64
	EntryPrice float64
	OpenedAt   time.Time
}

// Fill 描述一笔已确认的成交。
type Fill struct {
	Symbol    string
	Side      OrderSide
	Size      float64
	Price     float64
	Timestamp time.Time
}

// Book 是单一账户持仓的权威视图。Book 本身不加锁：
// 全部修改都发生在执行器的账户互斥域内。
type Book struct {
	positions map[string]*Position
}

// NewBook 创建空的持仓账本。
func NewBook() *Book {
	return &Book{positions: make(map[string]*Position)}
}

// Apply 将成交合入账本并返回已实现盈亏。
// 规则：无仓开仓；同向加仓摊平均价；反向先减仓并结算盈亏，
// 超出部分翻转为新方向的仓位；数量归零时仓位从账本移除。
func (b *Book) Apply(f Fill) (float64, error) {
	if f.Symbol == "" {
		return 0, errors.New("ledger: symbol 不能为空")
	}
	if f.Size <= 0 {
		return 0, fmt.Errorf("ledger: 成交数量必须大于0，当前为 %f", f.Size)
	}
	if f.Price <= 0 {
		return 0, fmt.Errorf("ledger: 成交价格必须大于0，当前为 %f", f.Price)
	}
	switch f.Side {
	case OrderSideBuy, OrderSideSell:
	default:
		return 0, fmt.Errorf("ledger: 非法的下单方向 %q", f.Side)
	}

	pos, ok := b.positions[f.Symbol]
	if !ok {
		b.positions[f.Symbol] = &Position{
			Symbol:     f.Symbol,
			Side:       sideFor(f.Side),
			Size:       f.Size,
			EntryPrice: f.Price,
			OpenedAt:   f.Timestamp,
		}
		return 0, nil
	}

	if sideFor(f.Side) == pos.Side {
		// 同向加仓，加权平均入场价。
		total := pos.Size + f.Size
		pos.EntryPrice = (pos.EntryPrice*pos.Size + f.Price*f.Size) / total
		pos.Size = total
		return 0, nil
	}

	closed := f.Size
	if closed > pos.Size {
		closed = pos.Size
	}
	realized := realizedPnL(pos.Side, pos.EntryPrice, f.Price, closed)

	remainder := f.Size - pos.Size
	switch {
	case remainder < 0:
		pos.Size -= f.Size
	case remainder == 0:
		delete(b.positions, f.Symbol)
	default:
		// 翻转：余量以本次成交价开出反向仓位。
		b.positions[f.Symbol] = &Position{
			Symbol:     f.Symbol,
			Side:       sideFor(f.Side),
			Size:       remainder,
			EntryPrice: f.Price,
			OpenedAt:   f.Timestamp,
		}
	}

	return realized, nil
}

// Get 返回指定标的的仓位快照。
func (b *Book) Get(symbol string) (Position, bool) {
	pos, ok := b.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Open 返回全部未平仓位的快照。
func (b *Book) Open() []Position {
	out := make([]Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	return out
}

// Count 返回未平仓位数量。
func (b *Book) Count() int {
	return len(b.positions)
}

// Notional 返回指定标的在给定价格下的名义价值，无仓位时为0。
func (b *Book) Notional(symbol string, price float64) float64 {
	pos, ok := b.positions[symbol]
	if !ok {
		return 0
	}
	return pos.Size * price
}

// UnrealizedPnL 返回指定标的的浮动盈亏。
func (b *Book) UnrealizedPnL(symbol string, price float64) float64 {
	pos, ok := b.positions[symbol]
	if !ok {
		return 0
	}
	return realizedPnL(pos.Side, pos.EntryPrice, price, pos.Size)
}

func sideFor(s OrderSide) Side {
	if s == OrderSideBuy {
		return SideLong
	}
	return SideShort
}

func realizedPnL(side Side, entry, exit, size float64) float64 {
	if side == SideLong {
		return (exit - entry) * size
	}
	return (entry - exit) * size
}

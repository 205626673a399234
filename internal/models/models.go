// Package models provides domain models for the portfolio pipeline.
package models

import (
	"time"
)

// InstrumentType represents the kind of instrument a position holds.
type InstrumentType string

const (
	InstrumentStock InstrumentType = "stock"
	InstrumentCall  InstrumentType = "call"
	InstrumentPut   InstrumentType = "put"
)

// PositionType represents the direction of a position.
type PositionType string

const (
	PositionLong  PositionType = "long"
	PositionShort PositionType = "short"
)

// LegAction represents the side of an option leg.
type LegAction string

const (
	LegBuy  LegAction = "buy"
	LegSell LegAction = "sell"
)

// ContractMultiplier is the standard US option contract multiplier.
const ContractMultiplier = 100

// Position represents an open position in the simulated portfolio.
// Quantity is stored as a magnitude; direction is conveyed by PositionType.
// Options always carry Strike and Expiry, stocks never require them.
type Position struct {
	ID            string
	Symbol        string
	Type          InstrumentType
	PositionType  PositionType
	Quantity      int
	Strike        float64
	Expiry        time.Time
	PurchasePrice float64
	CurrentPrice  float64
	UnrealizedPL  float64
	StopLoss      *float64
	TakeProfit    *float64
}

// IsOption reports whether the position is an option contract.
func (p *Position) IsOption() bool {
	return p.Type == InstrumentCall || p.Type == InstrumentPut
}

// Multiplier returns the per-unit share multiplier for the position.
func (p *Position) Multiplier() float64 {
	if p.IsOption() {
		return ContractMultiplier
	}
	return 1
}

// AbsQuantity returns the position size as a non-negative magnitude.
func (p *Position) AbsQuantity() float64 {
	q := p.Quantity
	if q < 0 {
		q = -q
	}
	return float64(q)
}

// MarketValue returns the current market value of the position at price.
func (p *Position) MarketValue(price float64) float64 {
	return price * p.AbsQuantity() * p.Multiplier()
}

// Quote represents a market quote from a provider.
type Quote struct {
	Symbol        string
	Price         float64
	Change        float64
	ChangePercent float64
	Volume        int64
	Timestamp     time.Time
	Source        string
}

// PriceUpdate is the streaming-feed analog of a Quote.
type PriceUpdate struct {
	Symbol        string
	Price         float64
	Timestamp     time.Time
	Volume        int64
	Change        float64
	ChangePercent float64
}

// BatchedUpdate groups price updates drained in one batch cycle.
type BatchedUpdate struct {
	Updates   []PriceUpdate
	Timestamp time.Time
	BatchID   uint64
}

// PLUpdate is the computed P&L result for a single position.
// HasChanged marks whether the result differs from the previous cycle,
// allowing downstream consumers to skip redundant work.
type PLUpdate struct {
	PositionID    string
	Symbol        string
	CurrentPrice  float64
	UnrealizedPL  float64
	PercentChange float64
	Timestamp     time.Time
	HasChanged    bool
}

// PortfolioPLSummary aggregates P&L across all positions.
type PortfolioPLSummary struct {
	TotalUnrealizedPL float64
	TotalRealizedPL   float64
	TotalValue        float64
	DayChange         float64
	DayChangePercent  float64
	Positions         []PLUpdate
	Timestamp         time.Time
	UpdateCount       uint64
}

// OptionLeg represents one leg of an option strategy or proposed trade.
// Legs are immutable once constructed.
type OptionLeg struct {
	Symbol     string
	OptionType InstrumentType // InstrumentCall or InstrumentPut
	Action     LegAction
	Quantity   int
	Strike     float64
	Expiry     time.Time
	Premium    float64
}

// RiskMetrics holds per-position or per-strategy risk indicators.
// Greeks are coarse moneyness-based approximations, not a pricing model.
type RiskMetrics struct {
	Delta               float64
	Gamma               float64
	Theta               float64
	Vega                float64
	EarlyAssignmentProb float64
	MarginRequirement   float64
	MaxLoss             float64
}

// OptionChainData represents an option chain for a symbol.
type OptionChainData struct {
	Symbol    string
	SpotPrice float64
	Expiry    time.Time
	Strikes   []OptionStrike
	Source    string
}

// OptionStrike represents a single strike in the option chain.
type OptionStrike struct {
	Strike float64
	Call   *OptionContract
	Put    *OptionContract
}

// OptionContract represents quote data for a single contract.
type OptionContract struct {
	Premium      float64
	OpenInterest int64
	Volume       int64
	ImpliedVol   float64
}

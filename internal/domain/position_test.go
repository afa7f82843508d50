package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newPosition() *Position {
	entry := time.Now().Add(-time.Hour)
	return &Position{
		ID:                "pos-1",
		Mint:              "TestMintpump",
		EntryPrice:        0.001,
		CurrentPrice:      0.001,
		HighestPrice:      0.001,
		LowestPrice:       0.001,
		Amount:            1_000_000,
		AmountSol:         1.0,
		InitialInvestment: 1.0,
		EntryTime:         entry,
		LastUpdate:        entry,
		Status:            PositionStatusOpen,
		Pool:              PoolHighRisk,
	}
}

func TestUpdatePriceWatermarks(t *testing.T) {
	p := newPosition()
	now := time.Now()

	p.UpdatePrice(0.002, now)
	assert.Equal(t, 0.002, p.CurrentPrice)
	assert.Equal(t, 0.002, p.HighestPrice)
	assert.Equal(t, 0.001, p.LowestPrice)

	p.UpdatePrice(0.0005, now)
	assert.Equal(t, 0.0005, p.CurrentPrice)
	assert.Equal(t, 0.002, p.HighestPrice, "highest watermark must not decay")
	assert.Equal(t, 0.0005, p.LowestPrice)

	p.UpdatePrice(0.0015, now)
	assert.Equal(t, 0.002, p.HighestPrice)
	assert.Equal(t, 0.0005, p.LowestPrice, "lowest watermark must not rise")
}

func TestProfitPercent(t *testing.T) {
	p := newPosition()

	p.CurrentPrice = 0.0015
	assert.InDelta(t, 0.5, p.ProfitPercent(), 1e-9)
	assert.True(t, p.ValidProfitPercent())

	p.CurrentPrice = 0.0005
	assert.InDelta(t, -0.5, p.ProfitPercent(), 1e-9)

	p.EntryPrice = 0
	assert.False(t, p.ValidProfitPercent())
}

func TestSliceCost(t *testing.T) {
	p := newPosition()

	// Entry bought 1,000,000 tokens for 1 SOL, so half the tokens carry
	// half the cost.
	assert.InDelta(t, 0.5, p.SliceCost(500_000), 1e-9)
	assert.InDelta(t, 1.0, p.SliceCost(1_000_000), 1e-9)

	p.EntryPrice = 0
	assert.Equal(t, 0.0, p.SliceCost(500_000))
}

func TestUnrealizedPnl(t *testing.T) {
	p := newPosition()
	p.CurrentPrice = 0.002

	assert.InDelta(t, 2.0, p.UnrealizedSol(), 1e-9)
	assert.InDelta(t, 1.0, p.UnrealizedPnl(), 1e-9)

	// Selling half leaves half the cost attributable to the remainder.
	p.Amount = 500_000
	assert.InDelta(t, 0.5, p.UnrealizedPnl(), 1e-9)
}

func TestArmTrailingStopNeverLoosens(t *testing.T) {
	p := newPosition()

	p.ArmTrailingStop(0.002, 0.15)
	assert.InDelta(t, 0.0017, p.TrailingStop, 1e-9)

	// A lower price must not pull the stop back down.
	p.ArmTrailingStop(0.0015, 0.15)
	assert.InDelta(t, 0.0017, p.TrailingStop, 1e-9)

	// A new high ratchets it up.
	p.ArmTrailingStop(0.003, 0.15)
	assert.InDelta(t, 0.00255, p.TrailingStop, 1e-9)
}

func TestAge(t *testing.T) {
	p := newPosition()
	now := p.EntryTime.Add(30 * time.Minute)
	assert.Equal(t, 30*time.Minute, p.Age(now))
}

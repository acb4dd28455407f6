package feed

import (
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/alanyoungcy/polyshadow/internal/platform/goldsky"
	"github.com/shopspring/decimal"
)

// usdcAssetID identifies the collateral side of a fill.
const usdcAssetID = "0"

// amountScale converts 6-decimal fixed point amounts to units.
const amountScale = -6

// TradeEvents converts one raw fill into trade events from the point of view
// of each tracked participant. A participant that gives USDC buys the other
// asset; one that receives USDC sells it. Fills with no USDC leg or zero
// shares produce nothing.
func TradeEvents(fill domain.RawFill, tracked map[string]struct{}) []domain.TradeEvent {
	type leg struct {
		wallet              string
		gaveAsset, gotAsset string
		gaveAmt, gotAmt     string
	}
	legs := []leg{
		{fill.Maker, fill.MakerAssetID, fill.TakerAssetID, fill.MakerAmountFilled, fill.TakerAmountFilled},
		{fill.Taker, fill.TakerAssetID, fill.MakerAssetID, fill.TakerAmountFilled, fill.MakerAmountFilled},
	}

	var out []domain.TradeEvent
	for _, l := range legs {
		wallet := goldsky.NormalizeAddress(l.wallet)
		if _, ok := tracked[wallet]; !ok {
			continue
		}

		var (
			side          domain.Side
			token         string
			usdc, shares  decimal.Decimal
			errUSD, errSh error
		)
		switch {
		case l.gaveAsset == usdcAssetID && l.gotAsset != usdcAssetID:
			side, token = domain.SideBuy, l.gotAsset
			usdc, errUSD = decimal.NewFromString(l.gaveAmt)
			shares, errSh = decimal.NewFromString(l.gotAmt)
		case l.gotAsset == usdcAssetID && l.gaveAsset != usdcAssetID:
			side, token = domain.SideSell, l.gaveAsset
			usdc, errUSD = decimal.NewFromString(l.gotAmt)
			shares, errSh = decimal.NewFromString(l.gaveAmt)
		default:
			continue
		}
		if errUSD != nil || errSh != nil || !shares.IsPositive() || !usdc.IsPositive() {
			continue
		}

		usdc = usdc.Shift(amountScale)
		shares = shares.Shift(amountScale)
		out = append(out, domain.TradeEvent{
			ID:          fill.ID + ":" + wallet,
			Wallet:      wallet,
			TokenID:     token,
			Side:        side,
			Size:        shares.InexactFloat64(),
			Price:       usdc.Div(shares).InexactFloat64(),
			TxHash:      fill.TransactionHash,
			OnchainTime: time.Unix(fill.Timestamp, 0).UTC(),
		})
	}
	return out
}

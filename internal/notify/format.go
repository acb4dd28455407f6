package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// FormatSettlement renders a settlement as a title and a body with one line
// per instrument.
func FormatSettlement(ev domain.SettlementEvent) (string, string) {
	var b strings.Builder
	var total float64
	for _, in := range ev.Instruments {
		total += in.RealizedGain
		fmt.Fprintf(&b, "%s #%d payout %.2f", shortID(in.TokenID), in.OutcomeIndex, in.Payout)
		if in.ClosedSize > 0 {
			fmt.Fprintf(&b, " closed %.2f sh pnl %+.2f", in.ClosedSize, in.RealizedGain)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "realized %+.2f USD (%s)", total, ev.Source)
	return "Market resolved " + shortID(ev.ConditionID), b.String()
}

// FormatNoFill renders a paper trade that could not be filled.
func FormatNoFill(ev domain.FillEvent) (string, string) {
	label := ev.Question
	if label == "" {
		label = shortID(ev.TokenID)
	}
	body := fmt.Sprintf("%s %s @ %.3f by %s\n%s", ev.Side, label, ev.TargetPrice, shortID(ev.Wallet), ev.NoFillReason)
	return "Paper no-fill", body
}

func shortID(id string) string {
	if len(id) <= 14 {
		return id
	}
	return id[:8] + "…" + id[len(id)-4:]
}

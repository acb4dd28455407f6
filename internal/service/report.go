package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/alanyoungcy/polyshadow/internal/ledger"
)

const summaryPage = 500

// Summary is the dashboard headline view.
type Summary struct {
	domain.TradeStats
	UnrealizedPnL float64
	TotalPnL      float64
	FillRate      float64
	GeneratedAt   time.Time
}

// ReportService derives read-time views; unrealized PnL is never stored.
type ReportService struct {
	reader domain.ReportReader
	now    func() time.Time
}

// NewReportService creates a ReportService.
func NewReportService(reader domain.ReportReader) *ReportService {
	return &ReportService{reader: reader, now: time.Now}
}

// Positions lists positions valued at the last paper fill price, or the
// default mark when none exists.
func (r *ReportService) Positions(ctx context.Context, opts domain.ListOpts) ([]domain.PositionView, error) {
	views, err := r.reader.ListPositions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("report: positions: %w", err)
	}
	for i := range views {
		views[i].MarkPrice, views[i].UnrealizedPnL = ledger.Unrealized(views[i].Position, views[i].LastPrice, views[i].Resolved)
	}
	return views, nil
}

// Summary aggregates trade counts with realized and projected PnL.
func (r *ReportService) Summary(ctx context.Context) (Summary, error) {
	stats, err := r.reader.TradeStats(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("report: summary: %w", err)
	}
	s := Summary{TradeStats: stats, GeneratedAt: r.now().UTC()}
	if stats.PaperTrades > 0 {
		s.FillRate = float64(stats.Filled) / float64(stats.PaperTrades)
	}

	err = r.eachPosition(ctx, func(v domain.PositionView) {
		s.UnrealizedPnL += v.UnrealizedPnL
	})
	if err != nil {
		return Summary{}, err
	}
	s.TotalPnL = s.RealizedPnL + s.UnrealizedPnL
	return s, nil
}

// PnLByCategory groups realized PnL, projected PnL and paper volume by the
// market category of each position. Markets without a category fall under
// domain.UncategorizedLabel.
func (r *ReportService) PnLByCategory(ctx context.Context) ([]domain.CategoryPnL, error) {
	byCat := map[string]*domain.CategoryPnL{}
	err := r.eachPosition(ctx, func(v domain.PositionView) {
		name := categoryLabel(v.Category)
		c, ok := byCat[name]
		if !ok {
			c = &domain.CategoryPnL{Category: name}
			byCat[name] = c
		}
		c.RealizedPnL += v.RealizedPnL
		c.UnrealizedPnL += v.UnrealizedPnL
	})
	if err != nil {
		return nil, err
	}

	volumes, err := r.reader.CategoryVolume(ctx)
	if err != nil {
		return nil, fmt.Errorf("report: category volume: %w", err)
	}
	for cat, vol := range volumes {
		if c, ok := byCat[categoryLabel(cat)]; ok {
			c.Volume += vol
		}
	}

	out := make([]domain.CategoryPnL, 0, len(byCat))
	for _, c := range byCat {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

// PnLTimeline returns the cumulative paper cash flow, optionally limited to
// one wallet or a time window.
func (r *ReportService) PnLTimeline(ctx context.Context, opts domain.ListOpts) ([]domain.CostPoint, error) {
	points, err := r.reader.ListCostSeries(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("report: pnl timeline: %w", err)
	}
	return points, nil
}

// eachPosition pages through every valued position.
func (r *ReportService) eachPosition(ctx context.Context, fn func(domain.PositionView)) error {
	for offset := 0; ; offset += summaryPage {
		page, err := r.Positions(ctx, domain.ListOpts{Limit: summaryPage, Offset: offset})
		if err != nil {
			return err
		}
		for _, v := range page {
			fn(v)
		}
		if len(page) < summaryPage {
			return nil
		}
	}
}

func categoryLabel(c string) string {
	if c == "" {
		return domain.UncategorizedLabel
	}
	return c
}

package ranker

import (
	"strings"

	"github.com/michaelpento.lv/mevsearcher/opportunity"
	"go.uber.org/zap"
)

type fieldVisitor struct {
	fields []zap.Field
}

func (v *fieldVisitor) VisitArbitrage(a opportunity.Arbitrage) {
	v.fields = append(v.fields,
		zap.String("token_in", a.TokenIn.Hex()),
		zap.String("token_out", a.TokenOut.Hex()),
		zap.String("path", strings.Join(a.Path(), ">")),
	)
}

func (v *fieldVisitor) VisitLiquidation(l opportunity.Liquidation) {
	v.fields = append(v.fields,
		zap.String("protocol", l.Protocol),
		zap.String("borrower", l.Borrower.Hex()),
	)
}

func (v *fieldVisitor) VisitSandwich(s opportunity.Sandwich) {
	v.fields = append(v.fields,
		zap.Stringer("target_tx", s.TargetTx),
		zap.String("token", s.Token.Hex()),
	)
}

// KindFields returns the structured log fields for k: its name, dedup key
// and the variant's identifying payload.
func KindFields(k opportunity.Kind) []zap.Field {
	v := &fieldVisitor{fields: []zap.Field{
		zap.String("kind", k.Name()),
		zap.String("dedup_key", k.DedupKey()),
	}}
	k.Accept(v)
	return v.fields
}

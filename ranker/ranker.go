// Package ranker filters detected opportunities down to the ones worth
// executing and orders them by net profit.
package ranker

import (
	"errors"
	"math/big"
	"sort"

	"github.com/michaelpento.lv/mevsearcher/ledger"
	"github.com/michaelpento.lv/mevsearcher/opportunity"
	"github.com/michaelpento.lv/mevsearcher/utils/metrics"
	"go.uber.org/zap"
)

type Decision int

const (
	Admit Decision = iota
	RejectBelowThreshold
	RejectDuplicate
	RejectStale
)

func (d Decision) String() string {
	switch d {
	case Admit:
		return "admit"
	case RejectBelowThreshold:
		return "below_threshold"
	case RejectDuplicate:
		return "duplicate"
	case RejectStale:
		return "stale"
	}
	return "unknown"
}

var ErrNoThreshold = errors.New("ranker: min profit threshold is required")

// GasOracle supplies the gas price net profit is judged at.
type GasOracle interface {
	GasPrice() (*big.Int, error)
}

type Config struct {
	// MinProfitThreshold is in wei. Net profit must be strictly greater.
	MinProfitThreshold *big.Int
	// StaleTolerance is how many blocks past its trigger block an
	// opportunity may still be admitted.
	StaleTolerance uint64
}

type Ranker struct {
	cfg      Config
	inflight *ledger.InFlight
	gas      GasOracle
	metrics  *metrics.PipelineMetrics
	logger   *zap.Logger
}

// New builds a ranker. gasOracle and m may be nil; without an oracle net
// profit uses each opportunity's own gas price snapshot.
func New(cfg Config, inflight *ledger.InFlight, gasOracle GasOracle, m *metrics.PipelineMetrics, logger *zap.Logger) (*Ranker, error) {
	if cfg.MinProfitThreshold == nil || cfg.MinProfitThreshold.Sign() < 0 {
		return nil, ErrNoThreshold
	}
	return &Ranker{
		cfg:      cfg,
		inflight: inflight,
		gas:      gasOracle,
		metrics:  m,
		logger:   logger.Named("ranker"),
	}, nil
}

// NetProfit is the opportunity's net profit at the current gas price.
func (r *Ranker) NetProfit(opp *opportunity.Opportunity) *big.Int {
	if r.gas == nil {
		return opp.NetProfit(nil)
	}
	price, err := r.gas.GasPrice()
	if err != nil {
		return opp.NetProfit(nil)
	}
	return opp.NetProfit(price)
}

// Accept decides whether opp may be executed. See Claim.
func (r *Ranker) Accept(opp *opportunity.Opportunity, head uint64) Decision {
	d, _ := r.Claim(opp, head)
	return d
}

// Claim decides whether opp may be executed. Checks run stale, threshold,
// duplicate; an Admit leaves opp's dedup key in the in-flight set under the
// returned ticket, which the caller must release once the submission
// reaches a terminal state.
func (r *Ranker) Claim(opp *opportunity.Opportunity, head uint64) (Decision, ledger.Ticket) {
	net := r.NetProfit(opp)
	d, ticket := r.decide(opp, head, net)

	if r.metrics != nil {
		r.metrics.Decisions.WithLabelValues(opp.Kind().Name(), d.String()).Inc()
		if d == Admit {
			f, _ := new(big.Float).SetInt(net).Float64()
			r.metrics.ExpectedNet.WithLabelValues(opp.Kind().Name()).Observe(f)
		}
	}

	fields := append(KindFields(opp.Kind()),
		zap.String("reason", d.String()),
		zap.Uint64("trigger_block", opp.TriggerBlock()),
		zap.Uint64("head", head),
		zap.String("net_profit", net.String()),
	)
	if d == Admit {
		r.logger.Info("Opportunity admitted", fields...)
	} else {
		r.logger.Debug("Opportunity rejected", fields...)
	}
	return d, ticket
}

func (r *Ranker) decide(opp *opportunity.Opportunity, head uint64, net *big.Int) (Decision, ledger.Ticket) {
	if opp.Stale(head, r.cfg.StaleTolerance) {
		return RejectStale, ledger.Ticket{}
	}
	if net.Cmp(r.cfg.MinProfitThreshold) <= 0 {
		return RejectBelowThreshold, ledger.Ticket{}
	}
	ticket, ok := r.inflight.TryAdmit(opp.DedupKey())
	if !ok {
		return RejectDuplicate, ledger.Ticket{}
	}
	return Admit, ticket
}

// Rank returns opps ordered by net profit, greatest first. Equal profits keep
// their input order.
func (r *Ranker) Rank(opps []*opportunity.Opportunity) []*opportunity.Opportunity {
	type scored struct {
		opp *opportunity.Opportunity
		net *big.Int
	}
	s := make([]scored, len(opps))
	for i, o := range opps {
		s[i] = scored{opp: o, net: r.NetProfit(o)}
	}
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].net.Cmp(s[j].net) > 0
	})
	out := make([]*opportunity.Opportunity, len(s))
	for i := range s {
		out[i] = s[i].opp
	}
	return out
}

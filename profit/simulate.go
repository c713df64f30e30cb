package profit

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/michaelpento.lv/mevsearcher/opportunity"
)

// SimulationResult is the outcome of a dry run against the node.
type SimulationResult struct {
	Success bool
	GasUsed uint64
	Err     error
}

// simulate dry-runs a single transaction. A revert is reported in the result,
// wrapped in ErrSimulation, not returned as an error.
func (e *Estimator) simulate(ctx context.Context, req opportunity.TxRequest) SimulationResult {
	if e.view == nil {
		return SimulationResult{Err: fmt.Errorf("%w: no chain view", ErrSimulation)}
	}
	to := req.To
	gasUsed, err := e.view.EstimateGas(ctx, ethereum.CallMsg{
		From:  e.cfg.From,
		To:    &to,
		Value: req.Value,
		Data:  req.Data,
	})
	if err != nil {
		return SimulationResult{Err: fmt.Errorf("%w: %v", ErrSimulation, err)}
	}
	return SimulationResult{Success: true, GasUsed: gasUsed}
}

package uniswap

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/mevsearcher/dex"
)

const (
	MethodSwapExactTokensForTokens = "swapExactTokensForTokens"
	MethodSwapExactETHForTokens    = "swapExactETHForTokens"
	MethodSwapExactTokensForETH    = "swapExactTokensForETH"
)

const routerABIJson = `[
{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactETHForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"payable","type":"function"},
{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForETH","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"}
]`

var routerABI = mustParseABI(routerABIJson)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("uniswap: bad ABI: %v", err))
	}
	return parsed
}

// decodeRouterCall understands the exact-input V2 router entry points.
func decodeRouterCall(data []byte, value *big.Int) (*dex.Swap, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", dex.ErrUnrecognizedCalldata, len(data))
	}
	method, err := routerABI.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: selector %x", dex.ErrUnrecognizedCalldata, data[:4])
	}

	params := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(params, data[4:]); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", dex.ErrUnrecognizedCalldata, method.Name, err)
	}

	swap := &dex.Swap{Method: method.Name}
	var ok bool
	if method.Name == MethodSwapExactETHForTokens {
		if value == nil || value.Sign() <= 0 {
			return nil, fmt.Errorf("%w: %s without value", dex.ErrUnrecognizedCalldata, method.Name)
		}
		swap.AmountIn = new(big.Int).Set(value)
	} else if swap.AmountIn, ok = params["amountIn"].(*big.Int); !ok {
		return nil, fmt.Errorf("%w: invalid amountIn", dex.ErrUnrecognizedCalldata)
	}
	if swap.AmountOutMin, ok = params["amountOutMin"].(*big.Int); !ok {
		return nil, fmt.Errorf("%w: invalid amountOutMin", dex.ErrUnrecognizedCalldata)
	}
	if swap.Path, ok = params["path"].([]common.Address); !ok || len(swap.Path) < 2 {
		return nil, fmt.Errorf("%w: invalid path", dex.ErrUnrecognizedCalldata)
	}
	if swap.To, ok = params["to"].(common.Address); !ok {
		return nil, fmt.Errorf("%w: invalid recipient", dex.ErrUnrecognizedCalldata)
	}
	if swap.Deadline, ok = params["deadline"].(*big.Int); !ok {
		return nil, fmt.Errorf("%w: invalid deadline", dex.ErrUnrecognizedCalldata)
	}
	return swap, nil
}

func encodeSwapExactTokensForTokens(req dex.SwapRequest) ([]byte, error) {
	if req.AmountIn == nil || req.AmountOutMin == nil || req.Deadline == nil {
		return nil, fmt.Errorf("swap request is missing amounts or deadline")
	}
	if len(req.Path) < 2 {
		return nil, fmt.Errorf("swap path needs at least two tokens, got %d", len(req.Path))
	}
	return routerABI.Pack(MethodSwapExactTokensForTokens,
		req.AmountIn,
		req.AmountOutMin,
		req.Path,
		req.To,
		req.Deadline,
	)
}

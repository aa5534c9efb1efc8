package venue

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/model"
)

// liquidatorABI is the minimal interface a registered liquidation contract
// must expose: it is offered a collateral lot and a minimum repayment and
// answers with the stable repayment it pays for it.
const liquidatorABI = `[{"constant":false,"inputs":[{"name":"collateral","type":"string"},{"name":"amount","type":"uint256"},{"name":"minRepayment","type":"uint256"}],"name":"liquidate","outputs":[{"name":"repayment","type":"uint256"}],"payable":false,"stateMutability":"nonpayable","type":"function"}]`

// amountDecimals is the fixed-point scale amounts are encoded with on chain.
const amountDecimals = 18

// EthContractCaller invokes registered liquidation contracts over JSON-RPC.
// The client is dialed lazily and reused; each attempt is time-boxed and
// transient RPC failures are retried with a linear backoff.
type EthContractCaller struct {
	rpcURL  string
	timeout time.Duration
	retries int

	mu     sync.Mutex
	client *ethclient.Client
	abi    abi.ABI
}

func NewEthContractCaller(rpcURL string, timeout time.Duration, retries int) (*EthContractCaller, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	parsed, err := abi.JSON(strings.NewReader(liquidatorABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse liquidator abi: %w", err)
	}
	return &EthContractCaller{
		rpcURL:  strings.TrimSpace(rpcURL),
		timeout: timeout,
		retries: retries,
		abi:     parsed,
	}, nil
}

// Liquidate offers the collateral lot to the contract at endpoint and returns
// the repayment it commits to. Any RPC failure, revert, or malformed answer
// is an error; the orchestrator treats it as a strategy-local rejection.
func (c *EthContractCaller) Liquidate(ctx context.Context, endpoint string, collateral model.AssetID, amount, minRepayment decimal.Decimal) (decimal.Decimal, error) {
	if c.rpcURL == "" {
		return decimal.Zero, fmt.Errorf("rpc url not configured")
	}
	if !common.IsHexAddress(endpoint) {
		return decimal.Zero, fmt.Errorf("invalid contract address %q", endpoint)
	}
	data, err := c.abi.Pack("liquidate", string(collateral), toWire(amount), toWire(minRepayment))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to pack call data: %w", err)
	}
	contract := common.HexToAddress(endpoint)

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		client, err := c.getClient(attemptCtx)
		if err != nil {
			cancel()
			lastErr = err
			if !shouldRetry(ctx, attempt, c.retries) {
				break
			}
			continue
		}

		output, err := client.CallContract(attemptCtx, ethereum.CallMsg{To: &contract, Data: data}, nil)
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("rpc call failed: %w", err)
			if !shouldRetry(ctx, attempt, c.retries) {
				break
			}
			continue
		}

		values, err := c.abi.Unpack("liquidate", output)
		if err != nil || len(values) != 1 {
			return decimal.Zero, fmt.Errorf("malformed liquidate response")
		}
		repayment, ok := values[0].(*big.Int)
		if !ok {
			return decimal.Zero, fmt.Errorf("malformed liquidate response")
		}
		return fromWire(repayment), nil
	}
	return decimal.Zero, lastErr
}

func (c *EthContractCaller) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect rpc: %w", err)
	}
	c.client = client
	return c.client, nil
}

func toWire(d decimal.Decimal) *big.Int {
	return d.Shift(amountDecimals).Truncate(0).BigInt()
}

func fromWire(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v, -amountDecimals)
}

func shouldRetry(ctx context.Context, attempt, max int) bool {
	if attempt >= max {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	default:
	}
	time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
	return true
}

package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"lecca.io/mind-watchtower/internal/config"
)

// Reader combines the on-chain and off-chain reads the refresh pipeline and
// the /chaindata endpoint need.
type Reader struct {
	contracts *ContractService
	status    *StatusClient
}

func NewReader(caller ethereum.ContractCaller, cfg config.ChainConfig) (*Reader, error) {
	contracts, err := NewContractService(caller, cfg.Contracts)
	if err != nil {
		return nil, err
	}
	return &Reader{
		contracts: contracts,
		status:    NewStatusClient(cfg.StatusAPI),
	}, nil
}

func (r *Reader) ListValidators(ctx context.Context) ([]common.Address, error) {
	return r.contracts.ListValidators(ctx)
}

func (r *Reader) FetchOnChain(ctx context.Context, addr common.Address) (*big.Int, *big.Int, error) {
	return r.contracts.FetchOnChain(ctx, addr)
}

func (r *Reader) FetchOffChain(ctx context.Context, addr common.Address) (OffChainStatus, error) {
	return r.status.FetchOffChain(ctx, addr)
}

func (r *Reader) FetchChainSummary(ctx context.Context) (ChainSummaryRaw, error) {
	return r.contracts.FetchChainSummary(ctx)
}

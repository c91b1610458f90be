package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
	"lecca.io/mind-watchtower/internal/config"
)

// ErrListValidators marks a failure to enumerate the validator set.
var ErrListValidators = errors.New("failed to list validators")

// ChainSummaryRaw holds the chain-wide reads behind /chaindata.
type ChainSummaryRaw struct {
	EpochHex    string
	TotalStaked *big.Int
}

// ContractService performs the read-only contract calls.
type ContractService struct {
	caller ethereum.ContractCaller

	validatorAddr common.Address
	rewardAddr    common.Address
	infoAddr      common.Address

	validatorABI abi.ABI
	erc20ABI     abi.ABI
	infoABI      abi.ABI
}

// NewContractService parses the static ABIs and binds them to the configured
// contract addresses.
func NewContractService(caller ethereum.ContractCaller, contracts config.ContractsConfig) (*ContractService, error) {
	validator, err := abi.JSON(strings.NewReader(validatorABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse validator ABI: %w", err)
	}
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 ABI: %w", err)
	}
	info, err := abi.JSON(strings.NewReader(blockchainInfoABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse blockchain info ABI: %w", err)
	}

	for name, addr := range map[string]string{
		"validator":       contracts.Validator,
		"reward_token":    contracts.RewardToken,
		"blockchain_info": contracts.BlockchainInfo,
	} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid %s contract address %q", name, addr)
		}
	}

	return &ContractService{
		caller:        caller,
		validatorAddr: common.HexToAddress(contracts.Validator),
		rewardAddr:    common.HexToAddress(contracts.RewardToken),
		infoAddr:      common.HexToAddress(contracts.BlockchainInfo),
		validatorABI:  validator,
		erc20ABI:      erc20,
		infoABI:       info,
	}, nil
}

func (s *ContractService) call(ctx context.Context, to common.Address, contract *abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{
		To:   &to,
		Data: data,
	}

	result, err := s.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	values, err := contract.Methods[method].Outputs.UnpackValues(result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s: unexpected number of return values: 0", method)
	}
	return values, nil
}

func (s *ContractService) callBigInt(ctx context.Context, to common.Address, contract *abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	values, err := s.call(ctx, to, contract, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected return type %T", method, values[0])
	}
	return v, nil
}

// ListValidators returns the registered validator addresses in contract order.
func (s *ContractService) ListValidators(ctx context.Context) ([]common.Address, error) {
	values, err := s.call(ctx, s.validatorAddr, &s.validatorABI, "validators")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListValidators, err)
	}
	addrs, ok := values[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected return type %T", ErrListValidators, values[0])
	}
	return addrs, nil
}

// FetchOnChain reads stake and reward balance for one validator concurrently.
func (s *ContractService) FetchOnChain(ctx context.Context, addr common.Address) (*big.Int, *big.Int, error) {
	var stake, rewards *big.Int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stake, err = s.callBigInt(gctx, s.validatorAddr, &s.validatorABI, "accountStake", addr)
		return err
	})
	g.Go(func() error {
		var err error
		rewards, err = s.callBigInt(gctx, s.rewardAddr, &s.erc20ABI, "balanceOf", addr)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return stake, rewards, nil
}

// FetchChainSummary reads the current epoch and the total staked amount.
func (s *ContractService) FetchChainSummary(ctx context.Context) (ChainSummaryRaw, error) {
	var summary ChainSummaryRaw

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		values, err := s.call(gctx, s.infoAddr, &s.infoABI, "getCurrentBlockEpoch")
		if err != nil {
			return err
		}
		summary.EpochHex, err = epochHex(values[0])
		return err
	})
	g.Go(func() error {
		var err error
		summary.TotalStaked, err = s.callBigInt(gctx, s.validatorAddr, &s.validatorABI, "stakedAmount")
		return err
	})
	if err := g.Wait(); err != nil {
		return ChainSummaryRaw{}, err
	}
	return summary, nil
}

// epochHex normalizes the epoch output to a hex string. Deployments that
// return the epoch as a string already hex-encode it.
func epochHex(v interface{}) (string, error) {
	switch e := v.(type) {
	case *big.Int:
		return fmt.Sprintf("0x%x", e), nil
	case string:
		return e, nil
	default:
		return "", fmt.Errorf("getCurrentBlockEpoch: unexpected return type %T", v)
	}
}

package oracle

import (
	"context"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ownerOfSelector is the ERC-721 ownerOf(uint256) function selector.
var ownerOfSelector = crypto.Keccak256([]byte("ownerOf(uint256)"))[:4]

// ContractCaller is the subset of ethclient.Client the EVM oracle needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EVM checks ERC-721 token existence with an eth_call to ownerOf.
// A revert or the zero address means the token does not exist.
type EVM struct {
	client ContractCaller
	logger *zap.Logger
	closer func()
}

// NewEVM wraps an existing contract caller.
func NewEVM(client ContractCaller, logger *zap.Logger) *EVM {
	return &EVM{client: client, logger: logger}
}

// DialEVM connects to an RPC endpoint.
func DialEVM(ctx context.Context, rpcURL string, logger *zap.Logger) (*EVM, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, eris.Wrapf(err, "oracle: dial %s", rpcURL)
	}
	e := NewEVM(c, logger)
	e.closer = c.Close
	return e, nil
}

// Close releases the RPC connection when DialEVM opened it.
func (e *EVM) Close() {
	if e.closer != nil {
		e.closer()
	}
}

// Exists implements Oracle.
func (e *EVM) Exists(ctx context.Context, ref TokenRef) (bool, error) {
	owner, err := e.owner(ctx, ref)
	if err != nil {
		return false, err
	}
	return owner != (common.Address{}), nil
}

// OwnerOf implements OwnerResolver.
func (e *EVM) OwnerOf(ctx context.Context, ref TokenRef) (string, error) {
	owner, err := e.owner(ctx, ref)
	if err != nil || owner == (common.Address{}) {
		return "", err
	}
	return owner.Hex(), nil
}

func (e *EVM) owner(ctx context.Context, ref TokenRef) (common.Address, error) {
	if ref.TokenID < 0 || !common.IsHexAddress(ref.ContractAddress) {
		return common.Address{}, nil
	}
	to := common.HexToAddress(ref.ContractAddress)
	data := append(append([]byte{}, ownerOfSelector...), common.LeftPadBytes(big.NewInt(ref.TokenID).Bytes(), 32)...)

	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		if ctx.Err() != nil {
			return common.Address{}, ctx.Err()
		}
		if isRevert(err) {
			e.logger.Debug("ownerOf reverted",
				zap.Int64("token_id", ref.TokenID),
				zap.String("contract", ref.ContractAddress))
			return common.Address{}, nil
		}
		return common.Address{}, eris.Wrapf(ErrUnavailable, "ownerOf(%d) on %s: %v", ref.TokenID, ref.ContractAddress, err)
	}
	if len(out) < 32 {
		return common.Address{}, nil
	}
	return common.BytesToAddress(out[12:32]), nil
}

func isRevert(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

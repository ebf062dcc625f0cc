// Package chain is the on-chain settlement adapter. It submits settleMarket
// transactions to the custody contract and reports the transaction hash; it
// is the only component that talks to an Ethereum RPC endpoint.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// custodyABIJSON is the minimal custody contract surface this adapter uses.
const custodyABIJSON = `[
	{
		"name": "settleMarket",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "marketId", "type": "bytes32"},
			{"name": "resolvedYes", "type": "bool"}
		],
		"outputs": []
	}
]`

// fallbackGasLimit is used when gas estimation fails against the RPC node.
const fallbackGasLimit = 200_000

// Config holds the parameters for the custody client.
type Config struct {
	RPCURL         string
	ChainID        int64
	CustodyAddress string
	// OracleKeyHex is the hex-encoded settlement key, already decrypted.
	OracleKeyHex string
}

// CustodyClient submits settlement transactions to the custody contract.
type CustodyClient struct {
	eth     *ethclient.Client
	abi     abi.ABI
	custody common.Address
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	logger  *slog.Logger
}

// NewCustodyClient dials the RPC endpoint and prepares the signing key.
func NewCustodyClient(ctx context.Context, cfg Config, logger *slog.Logger) (*CustodyClient, error) {
	if !common.IsHexAddress(cfg.CustodyAddress) {
		return nil, fmt.Errorf("chain: invalid custody address %q", cfg.CustodyAddress)
	}

	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.OracleKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: parse oracle key: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(custodyABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse custody ABI: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	return &CustodyClient{
		eth:     eth,
		abi:     parsed,
		custody: common.HexToAddress(cfg.CustodyAddress),
		key:     key,
		from:    ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(cfg.ChainID),
		logger:  logger.With(slog.String("component", "custody_client")),
	}, nil
}

// MarketIDHash maps an opaque market identifier to the bytes32 key the
// custody contract indexes by.
func MarketIDHash(marketID string) common.Hash {
	return ethcrypto.Keccak256Hash([]byte(marketID))
}

// SettleMarket calls settleMarket(bytes32,bool) on the custody contract and
// waits for the transaction to be mined. It returns the transaction hash.
func (c *CustodyClient) SettleMarket(ctx context.Context, marketID string, resolvedYes bool) (string, error) {
	calldata, err := c.abi.Pack("settleMarket", MarketIDHash(marketID), resolvedYes)
	if err != nil {
		return "", fmt.Errorf("chain: pack settleMarket: %w", err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("chain: pending nonce: %w", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: suggest gas price: %w", err)
	}

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.custody,
		Data: calldata,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "gas estimation failed, using fallback",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		gasLimit = fallbackGasLimit
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.custody,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("chain: sign settleMarket tx: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("chain: send settleMarket tx: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.eth, signed)
	if err != nil {
		return "", fmt.Errorf("chain: wait for settleMarket tx %s: %w", signed.Hash(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("chain: settleMarket tx %s reverted", signed.Hash())
	}

	c.logger.InfoContext(ctx, "market settled on-chain",
		slog.String("market_id", marketID),
		slog.Bool("resolved_yes", resolvedYes),
		slog.String("tx_hash", signed.Hash().Hex()),
	)
	return signed.Hash().Hex(), nil
}

// Address returns the settlement oracle's account address.
func (c *CustodyClient) Address() common.Address {
	return c.from
}

// Close releases the RPC connection.
func (c *CustodyClient) Close() {
	c.eth.Close()
}

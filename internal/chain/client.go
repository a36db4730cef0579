package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"casino-tx-relay/internal/models"
)

// TokenURIBuilder resolves the metadata URI minted into a game NFT.
type TokenURIBuilder interface {
	TokenURI(ctx context.Context, p models.MintPayload) (string, error)
}

// Config describes the chain endpoint and the relay's signing identity.
type Config struct {
	RPCURL         string
	ChainID        int64
	PrivateKey     string // hex, no 0x prefix required
	GameLogAddr    string
	GameNFTAddr    string
	GasLimit       uint64
	ConfirmTimeout time.Duration
}

// Client submits relay transactions through a single signing key. It
// implements relay.Submitter; nonce selection belongs to the queue.
type Client struct {
	rpc     *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int

	logAddr common.Address
	nftAddr common.Address
	logABI  abi.ABI
	nftABI  abi.ABI

	gasLimit       uint64
	confirmTimeout time.Duration

	uris TokenURIBuilder
	log  zerolog.Logger
}

// New dials the RPC endpoint and prepares the signer.
func New(cfg Config, uris TokenURIBuilder, log zerolog.Logger) (*Client, error) {
	if cfg.PrivateKey == "" {
		return nil, errors.New("relayer private key is required")
	}
	if uris == nil {
		return nil, errors.New("token uri builder is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse relayer key: %w", err)
	}
	if !common.IsHexAddress(cfg.GameLogAddr) {
		return nil, fmt.Errorf("malformed game log address %q", cfg.GameLogAddr)
	}
	if !common.IsHexAddress(cfg.GameNFTAddr) {
		return nil, fmt.Errorf("malformed game nft address %q", cfg.GameNFTAddr)
	}
	logABI, err := abi.JSON(strings.NewReader(gameLogABI))
	if err != nil {
		return nil, fmt.Errorf("parse game log abi: %w", err)
	}
	nftABI, err := abi.JSON(strings.NewReader(gameNFTABI))
	if err != nil {
		return nil, fmt.Errorf("parse game nft abi: %w", err)
	}
	rpc, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 500000
	}
	confirm := cfg.ConfirmTimeout
	if confirm == 0 {
		confirm = 90 * time.Second
	}
	return &Client{
		rpc:            rpc,
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		chainID:        big.NewInt(cfg.ChainID),
		logAddr:        common.HexToAddress(cfg.GameLogAddr),
		nftAddr:        common.HexToAddress(cfg.GameNFTAddr),
		logABI:         logABI,
		nftABI:         nftABI,
		gasLimit:       gasLimit,
		confirmTimeout: confirm,
		uris:           uris,
		log:            log,
	}, nil
}

// From returns the relayer account address.
func (c *Client) From() common.Address { return c.from }

// Close releases the RPC connection.
func (c *Client) Close() { c.rpc.Close() }

// PendingNonce reads the signer's next nonce, pending pool included.
func (c *Client) PendingNonce(ctx context.Context) (uint64, error) {
	return c.rpc.PendingNonceAt(ctx, c.from)
}

// SubmitLog records a game result on the log contract.
func (c *Client) SubmitLog(ctx context.Context, nonce uint64, p models.LogPayload) (models.Result, error) {
	resultData, err := marshalResult(p.Result)
	if err != nil {
		return models.Result{}, fmt.Errorf("encode result payload: %w", err)
	}
	calldata, err := c.logABI.Pack("recordResult",
		common.HexToAddress(p.Player),
		p.GameType,
		toWei(p.Bet),
		toWei(p.Payout),
		resultData,
	)
	if err != nil {
		return models.Result{}, fmt.Errorf("pack recordResult: %w", err)
	}
	receipt, err := c.send(ctx, nonce, c.logAddr, calldata)
	if err != nil {
		return models.Result{}, err
	}
	return models.Result{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

// SubmitMint mints the commemorative NFT for a game.
func (c *Client) SubmitMint(ctx context.Context, nonce uint64, p models.MintPayload) (models.Result, error) {
	uri, err := c.uris.TokenURI(ctx, p)
	if err != nil {
		return models.Result{}, fmt.Errorf("build token uri: %w", err)
	}
	calldata, err := c.nftABI.Pack("mintFor", common.HexToAddress(p.Player), uri)
	if err != nil {
		return models.Result{}, fmt.Errorf("pack mintFor: %w", err)
	}
	receipt, err := c.send(ctx, nonce, c.nftAddr, calldata)
	if err != nil {
		return models.Result{}, err
	}

	tokenID, ok := tokenIDFromReceipt(c.nftABI, c.nftAddr, receipt)
	if !ok {
		// Mint confirmed but the event was unreadable: the freshest token
		// is the supply counter minus one.
		tokenID, err = c.lastMintedToken(ctx)
		if err != nil {
			return models.Result{}, fmt.Errorf("resolve minted token id: %w", err)
		}
	}
	return models.Result{
		TxHash:  receipt.TxHash.Hex(),
		TokenID: tokenID,
	}, nil
}

// send signs and submits calldata with the given nonce, then waits for the
// receipt. A reverted receipt is an error like any transport failure.
func (c *Client) send(ctx context.Context, nonce uint64, to common.Address, calldata []byte) (*types.Receipt, error) {
	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      c.gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx nonce %d: %w", nonce, err)
	}
	c.log.Debug().Str("tx", signed.Hash().Hex()).Uint64("nonce", nonce).Msg("transaction sent")

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, c.rpc, signed)
	if err != nil {
		return nil, fmt.Errorf("wait for tx %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("tx %s reverted in block %d", signed.Hash().Hex(), receipt.BlockNumber.Uint64())
	}
	return receipt, nil
}

// tokenIDFromReceipt pulls the minted token id out of the ERC-721 Transfer
// event emitted by the NFT contract.
func tokenIDFromReceipt(nftABI abi.ABI, nftAddr common.Address, receipt *types.Receipt) (uint64, bool) {
	transferID := nftABI.Events["Transfer"].ID
	for _, lg := range receipt.Logs {
		if lg.Address != nftAddr {
			continue
		}
		if len(lg.Topics) == 4 && lg.Topics[0] == transferID {
			return lg.Topics[3].Big().Uint64(), true
		}
	}
	return 0, false
}

func (c *Client) lastMintedToken(ctx context.Context) (uint64, error) {
	calldata, err := c.nftABI.Pack("totalSupply")
	if err != nil {
		return 0, fmt.Errorf("pack totalSupply: %w", err)
	}
	raw, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &c.nftAddr, Data: calldata}, nil)
	if err != nil {
		return 0, fmt.Errorf("call totalSupply: %w", err)
	}
	out, err := c.nftABI.Unpack("totalSupply", raw)
	if err != nil {
		return 0, fmt.Errorf("unpack totalSupply: %w", err)
	}
	supply, ok := out[0].(*big.Int)
	if !ok || supply.Sign() == 0 {
		return 0, errors.New("empty supply counter")
	}
	return supply.Uint64() - 1, nil
}

// toWei scales a display amount to 18-decimal chain units. Bets arrive as
// floats from the front end; sub-wei dust is truncated.
func toWei(amount float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(1e18))
	wei, _ := f.Int(nil)
	if wei.Sign() < 0 {
		return big.NewInt(0)
	}
	return wei
}

// marshalResult is a guard for opaque result payloads that arrive as
// already-encoded JSON; it normalizes whitespace for the contract call.
func marshalResult(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

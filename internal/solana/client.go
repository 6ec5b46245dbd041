package solana

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"taptoken/internal/model"
)

const (
	confirmTimeout      = 60 * time.Second
	confirmPollInterval = 2 * time.Second
)

// Client wraps a Solana RPC connection and the treasury signing key.
// The key never leaves this process: transfers are built and signed here,
// server-side only.
type Client struct {
	rpc         *rpc.Client
	network     string
	treasury    solanago.PrivateKey
	treasuryPub solanago.PublicKey
	mint        solanago.PublicKey
	decimals    int
	feeFloor    uint64
	log         *zap.SugaredLogger
}

// NewClient builds a treasury client from the business config and the
// base58-encoded treasury private key taken from the environment.
func NewClient(cfg model.SolanaConfig, treasuryPrivateKey string, log *zap.SugaredLogger) (*Client, error) {
	if treasuryPrivateKey == "" {
		return nil, fmt.Errorf("treasury private key is not configured")
	}

	treasury, err := solanago.PrivateKeyFromBase58(treasuryPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse treasury private key: %v", err)
	}

	mint, err := solanago.PublicKeyFromBase58(cfg.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token mint address: %v", err)
	}

	c := &Client{
		rpc:         rpc.New(cfg.RPCURL),
		network:     cfg.Network,
		treasury:    treasury,
		treasuryPub: treasury.PublicKey(),
		mint:        mint,
		decimals:    cfg.TokenDecimals,
		feeFloor:    cfg.FeeFloorLamports,
		log:         log,
	}

	log.Infow("treasury wallet initialized",
		"public_key", c.treasuryPub.String(),
		"token_mint", cfg.TokenMint,
		"network", cfg.Network)

	return c, nil
}

// TreasuryAddress returns the treasury public key (safe to expose)
func (c *Client) TreasuryAddress() string {
	return c.treasuryPub.String()
}

// TokenMint returns the configured token mint address
func (c *Client) TokenMint() string {
	return c.mint.String()
}

// Network returns the configured cluster name
func (c *Client) Network() string {
	return c.network
}

// ValidateAddress checks that addr is a well-formed Solana wallet address
// lying on the ed25519 curve (i.e. an actual wallet, not a PDA).
func (c *Client) ValidateAddress(addr string) bool {
	if len(addr) < 32 || len(addr) > 44 {
		return false
	}
	pub, err := solanago.PublicKeyFromBase58(addr)
	if err != nil {
		return false
	}
	return pub.IsOnCurve()
}

// ToBaseUnits converts whole game-currency tokens to the mint's smallest
// denomination using the configured decimal places.
func (c *Client) ToBaseUnits(amount int64) uint64 {
	units := uint64(amount)
	for i := 0; i < c.decimals; i++ {
		units *= 10
	}
	return units
}

// CheckReserves verifies the treasury can fund a transfer of amountUnits:
// enough SOL for network fees and enough tokens in its token account.
// Shortfalls come back as *ReserveError.
func (c *Client) CheckReserves(ctx context.Context, amountUnits uint64) error {
	balRes, err := c.rpc.GetBalance(ctx, c.treasuryPub, rpc.CommitmentConfirmed)
	if err != nil {
		return classifySendError(fmt.Errorf("failed to get treasury SOL balance: %v", err))
	}
	if balRes.Value < c.feeFloor {
		return &ReserveError{Detail: fmt.Sprintf("treasury has %d lamports, needs at least %d for fees", balRes.Value, c.feeFloor)}
	}

	treasuryATA, _, err := solanago.FindAssociatedTokenAddress(c.treasuryPub, c.mint)
	if err != nil {
		return fmt.Errorf("failed to derive treasury token account: %v", err)
	}

	tokRes, err := c.rpc.GetTokenAccountBalance(ctx, treasuryATA, rpc.CommitmentConfirmed)
	if err != nil {
		return classifySendError(fmt.Errorf("failed to get treasury token balance: %v", err))
	}
	tokens, err := strconv.ParseUint(tokRes.Value.Amount, 10, 64)
	if err != nil {
		return fmt.Errorf("failed to parse treasury token balance %q: %v", tokRes.Value.Amount, err)
	}
	if tokens < amountUnits {
		return &ReserveError{Detail: fmt.Sprintf("treasury token account has %d units, needs %d", tokens, amountUnits)}
	}

	return nil
}

// Transfer submits one signed SPL token transfer of amountUnits from the
// treasury to destWallet and waits for confirmation. The destination's
// associated token account is created in the same transaction when missing.
func (c *Client) Transfer(ctx context.Context, destWallet string, amountUnits uint64) (string, error) {
	destPub, err := solanago.PublicKeyFromBase58(destWallet)
	if err != nil {
		return "", fmt.Errorf("invalid destination address: %v", err)
	}

	treasuryATA, _, err := solanago.FindAssociatedTokenAddress(c.treasuryPub, c.mint)
	if err != nil {
		return "", fmt.Errorf("failed to derive treasury token account: %v", err)
	}
	destATA, _, err := solanago.FindAssociatedTokenAddress(destPub, c.mint)
	if err != nil {
		return "", fmt.Errorf("failed to derive destination token account: %v", err)
	}

	instructions := make([]solanago.Instruction, 0, 2)

	_, err = c.rpc.GetAccountInfo(ctx, destATA)
	if err != nil {
		if !errors.Is(err, rpc.ErrNotFound) {
			return "", classifySendError(fmt.Errorf("failed to look up destination token account: %v", err))
		}
		c.log.Infow("creating destination token account", "account", destATA.String())
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(c.treasuryPub, destPub, c.mint).Build())
	}

	instructions = append(instructions,
		token.NewTransferInstruction(amountUnits, treasuryATA, destATA, c.treasuryPub, nil).Build())

	bh, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return "", classifySendError(fmt.Errorf("failed to get latest blockhash: %v", err))
	}

	tx, err := solanago.NewTransaction(instructions, bh.Value.Blockhash,
		solanago.TransactionPayer(c.treasuryPub))
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %v", err)
	}

	if _, err := tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(c.treasuryPub) {
			return &c.treasury
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to sign transaction: %v", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", classifySendError(fmt.Errorf("failed to send transaction: %v", err))
	}

	c.log.Infow("transaction sent", "signature", sig.String())

	if err := c.awaitConfirmation(ctx, sig); err != nil {
		return "", err
	}

	c.log.Infow("transaction confirmed", "signature", sig.String())
	return sig.String(), nil
}

// awaitConfirmation polls the signature status until the cluster reports the
// transaction confirmed or the timeout elapses. A timeout is retryable: the
// transfer may still land, and the engine's replay guard keeps a resubmission
// from double-paying once the hash is recorded.
func (c *Client) awaitConfirmation(ctx context.Context, sig solanago.Signature) error {
	deadline := time.Now().Add(confirmTimeout)

	for {
		res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			c.log.Warnw("failed to get signature status", "signature", sig.String(), "error", err)
		} else if len(res.Value) > 0 && res.Value[0] != nil {
			st := res.Value[0]
			if st.Err != nil {
				return fmt.Errorf("transaction failed on-chain: %v", st.Err)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return Retryable(fmt.Errorf("transaction %s not confirmed within %s", sig.String(), confirmTimeout))
		}

		select {
		case <-ctx.Done():
			return Retryable(ctx.Err())
		case <-time.After(confirmPollInterval):
		}
	}
}

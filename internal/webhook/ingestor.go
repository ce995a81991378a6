// Package webhook ingests enhanced-transaction webhook deliveries and turns
// them into staking events for the reconciler.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/hatmlabs/staking-gateway/internal/reconcile"
	"github.com/hatmlabs/staking-gateway/sdk/staking"
	"github.com/mr-tron/base58"
)

// ErrAuth is returned when the delivery's signature or API key does not
// verify. The caller must not mutate any state on this error.
var ErrAuth = errors.New("webhook authentication failed")

type IngestorConfig struct {
	Logger    *slog.Logger
	ProgramID solana.PublicKey
	TokenMint solana.PublicKey

	// Decimals of the staking token, used to scale UI amounts in token
	// transfer summaries back to base units.
	Decimals uint8

	// SigningSecret enables HMAC-SHA256 verification of the raw body.
	SigningSecret string
	// APIKey enables static shared-key verification instead. Used by
	// providers that send a fixed authorization header per webhook.
	APIKey string
}

func (c *IngestorConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	if c.TokenMint.IsZero() {
		return errors.New("token mint is required")
	}
	if c.Decimals == 0 {
		c.Decimals = staking.TokenDecimals
	}
	return nil
}

// Ingestor verifies and parses webhook deliveries.
type Ingestor struct {
	log *slog.Logger
	cfg *IngestorConfig
}

func NewIngestor(cfg *IngestorConfig) (*Ingestor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ingestor config: %w", err)
	}
	if cfg.SigningSecret == "" && cfg.APIKey == "" {
		cfg.Logger.Warn("no webhook signing secret or api key configured, deliveries are unauthenticated")
	}
	return &Ingestor{
		log: cfg.Logger.With("component", "webhook"),
		cfg: cfg,
	}, nil
}

// Ingest verifies the delivery and extracts staking events from it. The
// payload is a JSON array of enhanced transaction summaries.
func (i *Ingestor) Ingest(raw []byte, signatureHeader string) ([]reconcile.Event, error) {
	if err := i.verify(raw, signatureHeader); err != nil {
		return nil, err
	}

	var summaries []txSummary
	if err := json.Unmarshal(raw, &summaries); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	var events []reconcile.Event
	for _, tx := range summaries {
		ev, ok := i.eventFromSummary(tx)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (i *Ingestor) verify(raw []byte, signatureHeader string) error {
	switch {
	case i.cfg.SigningSecret != "":
		mac := hmac.New(sha256.New, []byte(i.cfg.SigningSecret))
		mac.Write(raw)
		expected := hex.EncodeToString(mac.Sum(nil))
		got := strings.TrimPrefix(signatureHeader, "sha256=")
		if !hmac.Equal([]byte(got), []byte(expected)) {
			return fmt.Errorf("%w: signature mismatch", ErrAuth)
		}
	case i.cfg.APIKey != "":
		if !hmac.Equal([]byte(signatureHeader), []byte(i.cfg.APIKey)) {
			return fmt.Errorf("%w: api key mismatch", ErrAuth)
		}
	}
	return nil
}

type txSummary struct {
	Signature      string               `json:"signature"`
	Timestamp      int64                `json:"timestamp"`
	FeePayer       string               `json:"feePayer"`
	Instructions   []instructionSummary `json:"instructions"`
	TokenTransfers []tokenTransfer      `json:"tokenTransfers"`
}

type instructionSummary struct {
	ProgramID string             `json:"programId"`
	Data      string             `json:"data"`
	Accounts  []string           `json:"accounts"`
	Parsed    *parsedInstruction `json:"parsed"`
}

type parsedInstruction struct {
	Type   string `json:"type"`
	Amount uint64 `json:"amount"`
	Wallet string `json:"wallet"`
}

type tokenTransfer struct {
	Mint            string          `json:"mint"`
	FromUserAccount string          `json:"fromUserAccount"`
	ToUserAccount   string          `json:"toUserAccount"`
	TokenAmount     float64         `json:"tokenAmount"`
	RawTokenAmount  *rawTokenAmount `json:"rawTokenAmount,omitempty"`
}

type rawTokenAmount struct {
	TokenAmount string `json:"tokenAmount"`
	Decimals    uint8  `json:"decimals"`
}

// eventFromSummary locates the staking program instruction in the summary and
// reconstructs the event. The parsed type field wins when present; otherwise
// the raw instruction data is decoded and matched by discriminator.
func (i *Ingestor) eventFromSummary(tx txSummary) (reconcile.Event, bool) {
	for _, ix := range tx.Instructions {
		if ix.ProgramID != i.cfg.ProgramID.String() {
			continue
		}

		kind, amount, wallet := i.decodeInstruction(ix)
		if kind == reconcile.KindUnknown {
			continue
		}

		if wallet.IsZero() {
			wallet = i.walletFromTransfers(tx, kind)
		}
		if wallet.IsZero() {
			i.log.Warn("could not determine wallet for webhook transaction, discarding",
				"sig", tx.Signature, "kind", kind)
			return reconcile.Event{}, false
		}
		if amount == 0 {
			amount = i.amountFromTransfers(tx)
		}

		observedAt := time.Now()
		if tx.Timestamp > 0 {
			observedAt = time.Unix(tx.Timestamp, 0)
		}
		return reconcile.Event{
			Kind:       kind,
			Wallet:     wallet,
			Amount:     amount,
			Signature:  tx.Signature,
			Source:     reconcile.SourceWebhook,
			ObservedAt: observedAt,
		}, true
	}
	return reconcile.Event{}, false
}

func (i *Ingestor) decodeInstruction(ix instructionSummary) (reconcile.Kind, uint64, solana.PublicKey) {
	var wallet solana.PublicKey
	// The owner is the first account in every staking instruction.
	if len(ix.Accounts) > 0 {
		if pk, err := solana.PublicKeyFromBase58(ix.Accounts[0]); err == nil {
			wallet = pk
		}
	}

	if ix.Parsed != nil {
		if pk, err := solana.PublicKeyFromBase58(ix.Parsed.Wallet); err == nil {
			wallet = pk
		}
		return kindFromType(ix.Parsed.Type), ix.Parsed.Amount, wallet
	}

	data, err := base58.Decode(ix.Data)
	if err != nil {
		i.log.Debug("undecodable instruction data", "error", err)
		return reconcile.KindUnknown, 0, wallet
	}
	parsed, err := staking.ParseInstructionData(data)
	if err != nil {
		return reconcile.KindUnknown, 0, wallet
	}
	return kindFromOp(parsed.Op), parsed.Amount, wallet
}

func kindFromType(t string) reconcile.Kind {
	switch strings.ToLower(t) {
	case "stake", "deposit":
		return reconcile.KindStake
	case "unstake", "withdraw":
		return reconcile.KindUnstake
	case "claim", "claim_rewards", "claimrewards":
		return reconcile.KindClaim
	default:
		return reconcile.KindUnknown
	}
}

func kindFromOp(op staking.Op) reconcile.Kind {
	switch op {
	case staking.OpStake:
		return reconcile.KindStake
	case staking.OpUnstake:
		return reconcile.KindUnstake
	case staking.OpClaimRewards:
		return reconcile.KindClaim
	default:
		return reconcile.KindUnknown
	}
}

func (i *Ingestor) walletFromTransfers(tx txSummary, kind reconcile.Kind) solana.PublicKey {
	mint := i.cfg.TokenMint.String()
	for _, tr := range tx.TokenTransfers {
		if tr.Mint != mint {
			continue
		}
		var owner string
		switch kind {
		case reconcile.KindStake:
			owner = tr.FromUserAccount
		case reconcile.KindUnstake, reconcile.KindClaim:
			owner = tr.ToUserAccount
		}
		if pk, err := solana.PublicKeyFromBase58(owner); err == nil && !pk.IsZero() {
			return pk
		}
	}
	return solana.PublicKey{}
}

func (i *Ingestor) amountFromTransfers(tx txSummary) uint64 {
	mint := i.cfg.TokenMint.String()
	for _, tr := range tx.TokenTransfers {
		if tr.Mint != mint {
			continue
		}
		// The raw base-unit string is exact; prefer it when present.
		if tr.RawTokenAmount != nil {
			if v, err := strconv.ParseUint(tr.RawTokenAmount.TokenAmount, 10, 64); err == nil && v > 0 {
				return v
			}
		}
		if tr.TokenAmount <= 0 {
			continue
		}
		// The UI amount is a float; scaling back to base units is only
		// approximate above 2^53 base units.
		return uint64(tr.TokenAmount * math.Pow10(int(i.cfg.Decimals)))
	}
	return 0
}

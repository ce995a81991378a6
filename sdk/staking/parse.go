package staking

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Op identifies a staking program operation.
type Op uint8

const (
	OpUnknown Op = iota
	OpInitialize
	OpRegisterUser
	OpStake
	OpUnstake
	OpClaimRewards
	OpCompoundRewards
	OpAddToRewardPool
)

func (o Op) String() string {
	switch o {
	case OpInitialize:
		return "initialize"
	case OpRegisterUser:
		return "register_user"
	case OpStake:
		return "stake"
	case OpUnstake:
		return "unstake"
	case OpClaimRewards:
		return "claim_rewards"
	case OpCompoundRewards:
		return "compound_rewards"
	case OpAddToRewardPool:
		return "add_to_reward_pool"
	default:
		return "unknown"
	}
}

// ErrUnknownInstruction is returned when instruction data does not start with
// a known discriminator.
var ErrUnknownInstruction = errors.New("unknown instruction discriminator")

// ParsedInstruction is the decoded form of a staking instruction's data.
// Amount is set for stake, unstake and add_to_reward_pool; Referrer for
// register_user when present.
type ParsedInstruction struct {
	Op       Op
	Amount   uint64
	Referrer *solana.PublicKey
}

// ParseInstructionData decodes raw instruction data back into the operation
// and its arguments. It is the inverse of the Build*Instruction serializers
// and exists for webhook fallback parsing and round-trip tests.
func ParseInstructionData(data []byte) (*ParsedInstruction, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: data too short (%d bytes)", ErrUnknownInstruction, len(data))
	}
	var disc Discriminator
	copy(disc[:], data[:8])
	args := data[8:]

	switch disc {
	case DiscriminatorInitialize:
		return &ParsedInstruction{Op: OpInitialize}, nil
	case DiscriminatorRegisterUser:
		return parseRegisterUser(args)
	case DiscriminatorStake:
		return parseAmountOp(OpStake, args)
	case DiscriminatorUnstake:
		return parseAmountOp(OpUnstake, args)
	case DiscriminatorClaimRewards:
		return &ParsedInstruction{Op: OpClaimRewards}, nil
	case DiscriminatorCompoundRewards:
		return &ParsedInstruction{Op: OpCompoundRewards}, nil
	case DiscriminatorAddToRewardPool:
		return parseAmountOp(OpAddToRewardPool, args)
	default:
		return nil, ErrUnknownInstruction
	}
}

func parseRegisterUser(args []byte) (*ParsedInstruction, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("register_user args truncated: missing referrer flag")
	}
	out := &ParsedInstruction{Op: OpRegisterUser}
	switch args[0] {
	case 0:
		return out, nil
	case 1:
		if len(args) < 1+32 {
			return nil, fmt.Errorf("register_user args truncated: referrer flag set but key missing")
		}
		ref := solana.PublicKeyFromBytes(args[1 : 1+32])
		out.Referrer = &ref
		return out, nil
	default:
		return nil, fmt.Errorf("register_user args malformed: bad referrer flag %d", args[0])
	}
}

func parseAmountOp(op Op, args []byte) (*ParsedInstruction, error) {
	if len(args) < 8 {
		return nil, fmt.Errorf("%s args truncated: missing amount", op)
	}
	return &ParsedInstruction{
		Op:     op,
		Amount: binary.LittleEndian.Uint64(args[:8]),
	}, nil
}

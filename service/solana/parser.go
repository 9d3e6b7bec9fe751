package solana

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL transfer program
	SystemProgramID = solana.MustPublicKeyFromBase58("11111111111111111111111111111112")

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

// signatureToTransfer converts signature-list metadata to a Transfer.
// Amount and mint require a detail fetch; callers fall back to this when
// the detail fetch or parse fails.
func signatureToTransfer(sig *rpc.TransactionSignature) *Transfer {
	t := &Transfer{
		Signature: sig.Signature.String(),
		Slot:      sig.Slot,
	}
	if sig.BlockTime != nil {
		t.BlockTime = sig.BlockTime.Time()
	} else {
		t.BlockTime = time.Time{}
	}
	if sig.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", sig.Err)
		t.Err = &errMsg
	}
	return t
}

// parseTransferFromResult extracts amount, mint, and signing authority from
// a full transaction result.
func parseTransferFromResult(sig *rpc.TransactionSignature, result *rpc.GetTransactionResult) (*Transfer, error) {
	t := signatureToTransfer(sig)

	// Failed transactions keep metadata only.
	if sig.Err != nil {
		return t, nil
	}
	if result == nil {
		return t, nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	accountKeys := tx.Message.AccountKeys
	for _, instruction := range tx.Message.Instructions {
		programID := accountKeys[instruction.ProgramIDIndex]

		if programID.Equals(SystemProgramID) {
			if amount, fromAddr, err := parseSystemTransfer(instruction, accountKeys); err == nil {
				t.Amount = amount
				if fromAddr != nil {
					fromStr := fromAddr.String()
					t.FromAddress = &fromStr
				}
				// TokenMint stays nil for native SOL
			}
		}

		if programID.Equals(TokenProgramID) || programID.Equals(Token2022ProgramID) {
			if amount, mint, fromAddr, err := parseTokenTransfer(instruction, accountKeys); err == nil {
				t.Amount = amount
				if !mint.IsZero() {
					mintStr := mint.String()
					t.TokenMint = &mintStr
				}
				if fromAddr != nil {
					fromStr := fromAddr.String()
					t.FromAddress = &fromStr
				}
			}
		}
	}

	return t, nil
}

// parseSystemTransfer extracts the amount and source address from a System
// Program Transfer instruction.
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (uint64, *solana.PublicKey, error) {
	// System Transfer instruction format:
	// [0..4]  = instruction type (u32, should be 2 for Transfer)
	// [4..12] = lamports (u64)

	if len(instruction.Data) < 12 {
		return 0, nil, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}

	instructionType := binary.LittleEndian.Uint32(instruction.Data[0:4])
	if instructionType != SystemProgramTransferInstruction {
		return 0, nil, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}

	amount := binary.LittleEndian.Uint64(instruction.Data[4:12])

	// System Transfer accounts: [from, to]
	var fromAddr *solana.PublicKey
	if len(instruction.Accounts) >= 1 {
		fromAccountIndex := instruction.Accounts[0]
		if int(fromAccountIndex) < len(accountKeys) {
			addr := accountKeys[fromAccountIndex]
			fromAddr = &addr
		}
	}

	return amount, fromAddr, nil
}

// parseTokenTransfer extracts amount, token mint, and signing authority from
// an SPL Token transfer instruction.
func parseTokenTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (amount uint64, mint solana.PublicKey, fromAddr *solana.PublicKey, err error) {
	if len(instruction.Data) == 0 {
		return 0, solana.PublicKey{}, nil, fmt.Errorf("empty instruction data")
	}

	instructionType := instruction.Data[0]

	switch instructionType {
	case TokenProgramTransferInstruction:
		// Transfer instruction format:
		// [0]     = instruction type (u8, 3 = Transfer)
		// [1..9]  = amount (u64)
		if len(instruction.Data) < 9 {
			return 0, solana.PublicKey{}, nil, fmt.Errorf("transfer instruction data too short")
		}
		amount = binary.LittleEndian.Uint64(instruction.Data[1:9])

		// Account layout for Transfer: [source, destination, authority].
		// Source is a token account, not the wallet owner, so the owner
		// cannot be resolved without another lookup.
		return amount, solana.PublicKey{}, nil, nil

	case TokenProgramTransferCheckedInstruction:
		// TransferChecked instruction format:
		// [0]      = instruction type (u8, 12 = TransferChecked)
		// [1..9]   = amount (u64)
		// [9]      = decimals (u8)
		if len(instruction.Data) < 10 {
			return 0, solana.PublicKey{}, nil, fmt.Errorf("transferChecked instruction data too short")
		}
		amount = binary.LittleEndian.Uint64(instruction.Data[1:9])

		// Account layout: [source_token_account, mint, destination_token_account, authority, ...]
		if len(instruction.Accounts) < 4 {
			return 0, solana.PublicKey{}, nil, fmt.Errorf("transferChecked missing accounts")
		}

		mintAccountIndex := instruction.Accounts[1]
		if int(mintAccountIndex) >= len(accountKeys) {
			return 0, solana.PublicKey{}, nil, fmt.Errorf("mint account index out of bounds")
		}
		mint = accountKeys[mintAccountIndex]

		authorityIndex := instruction.Accounts[3]
		if int(authorityIndex) < len(accountKeys) {
			addr := accountKeys[authorityIndex]
			fromAddr = &addr
		}

		return amount, mint, fromAddr, nil

	default:
		return 0, solana.PublicKey{}, nil, fmt.Errorf("unknown token instruction type: %d", instructionType)
	}
}

package solana

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListTransfersSince(t *testing.T) {
	wallet := solana.NewWallet().PublicKey()
	sig1 := solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
	sig2 := solana.MustSignatureFromBase58("2TgM4N8qCMqLvfR8dxqTQgKygPNzT5KQkN5b5sT7eZPEkdxyLTXGnNQB3j7KG4DPFg5Qez5yNJBQRQ5r7DDnFfjG")
	now := solana.UnixTimeSeconds(time.Now().Unix())

	t.Run("known signatures are skipped", func(t *testing.T) {
		mock := &mockRPCClient{
			signatures: []*rpc.TransactionSignature{
				{Signature: sig1, Slot: 100, BlockTime: &now},
				{Signature: sig2, Slot: 99, BlockTime: &now},
			},
		}
		s := NewScanner(mock, nil, discardLogger())

		transfers, err := s.ListTransfersSince(context.Background(), ScanParams{
			Wallet:          wallet,
			Limit:           10,
			KnownSignatures: []string{sig1.String()},
		})
		require.NoError(t, err)
		require.Len(t, transfers, 1)
		assert.Equal(t, sig2.String(), transfers[0].Signature)
	})

	t.Run("detail fetch returning nil keeps metadata", func(t *testing.T) {
		mock := &mockRPCClient{
			signatures: []*rpc.TransactionSignature{
				{Signature: sig1, Slot: 100, BlockTime: &now},
			},
		}
		s := NewScanner(mock, nil, discardLogger())

		transfers, err := s.ListTransfersSince(context.Background(), ScanParams{
			Wallet: wallet,
			Limit:  10,
		})
		require.NoError(t, err)
		require.Len(t, transfers, 1)
		assert.Equal(t, uint64(100), transfers[0].Slot)
		assert.Zero(t, transfers[0].Amount)
	})

	t.Run("failed on-chain transactions carry the error", func(t *testing.T) {
		mock := &mockRPCClient{
			signatures: []*rpc.TransactionSignature{
				{Signature: sig1, Slot: 100, BlockTime: &now, Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}},
			},
		}
		s := NewScanner(mock, nil, discardLogger())

		transfers, err := s.ListTransfersSince(context.Background(), ScanParams{
			Wallet: wallet,
			Limit:  10,
		})
		require.NoError(t, err)
		require.Len(t, transfers, 1)
		require.NotNil(t, transfers[0].Err)
	})
}

func TestParseTokenTransfer(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()
	source := solana.NewWallet().PublicKey()
	dest := solana.NewWallet().PublicKey()
	accountKeys := []solana.PublicKey{source, mint, dest, authority}

	t.Run("transferChecked", func(t *testing.T) {
		data := make([]byte, 10)
		data[0] = TokenProgramTransferCheckedInstruction
		binary.LittleEndian.PutUint64(data[1:9], 128735600)
		data[9] = 6

		instruction := solana.CompiledInstruction{
			Accounts: []uint16{0, 1, 2, 3},
			Data:     data,
		}

		amount, gotMint, fromAddr, err := parseTokenTransfer(instruction, accountKeys)
		require.NoError(t, err)
		assert.Equal(t, uint64(128735600), amount)
		assert.Equal(t, mint, gotMint)
		require.NotNil(t, fromAddr)
		assert.Equal(t, authority, *fromAddr)
	})

	t.Run("plain transfer has no resolvable owner", func(t *testing.T) {
		data := make([]byte, 9)
		data[0] = TokenProgramTransferInstruction
		binary.LittleEndian.PutUint64(data[1:9], 5000)

		instruction := solana.CompiledInstruction{
			Accounts: []uint16{0, 2, 3},
			Data:     data,
		}

		amount, gotMint, fromAddr, err := parseTokenTransfer(instruction, accountKeys)
		require.NoError(t, err)
		assert.Equal(t, uint64(5000), amount)
		assert.True(t, gotMint.IsZero())
		assert.Nil(t, fromAddr)
	})

	t.Run("rejects unknown instruction type", func(t *testing.T) {
		instruction := solana.CompiledInstruction{Data: []byte{99}}
		_, _, _, err := parseTokenTransfer(instruction, accountKeys)
		assert.Error(t, err)
	})

	t.Run("rejects truncated data", func(t *testing.T) {
		instruction := solana.CompiledInstruction{Data: []byte{TokenProgramTransferCheckedInstruction, 1, 2}}
		_, _, _, err := parseTokenTransfer(instruction, accountKeys)
		assert.Error(t, err)
	})
}

func TestParseSystemTransfer(t *testing.T) {
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()
	accountKeys := []solana.PublicKey{from, to}

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], SystemProgramTransferInstruction)
	binary.LittleEndian.PutUint64(data[4:12], 7777)

	instruction := solana.CompiledInstruction{
		Accounts: []uint16{0, 1},
		Data:     data,
	}

	amount, fromAddr, err := parseSystemTransfer(instruction, accountKeys)
	require.NoError(t, err)
	assert.Equal(t, uint64(7777), amount)
	require.NotNil(t, fromAddr)
	assert.Equal(t, from, *fromAddr)
}

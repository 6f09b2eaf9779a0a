package solana

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// systemTransferIndex is the System Program instruction discriminator for
// Transfer.
const systemTransferIndex uint32 = 2

// TransferMessage describes a single native SOL transfer.
type TransferMessage struct {
	From            []byte // 32-byte fee payer and sender
	To              []byte // 32-byte recipient
	RecentBlockhash []byte // 32 bytes
	Lamports        uint64
}

// Serialize encodes the legacy message:
//
//	header [1 signer, 0 readonly signed, 1 readonly unsigned]
//	keys   [from, to, system program]
//	recent blockhash
//	one instruction: program=2, accounts=[0,1], data=u32(2)||u64(lamports)
func (m *TransferMessage) Serialize() ([]byte, error) {
	if len(m.From) != PublicKeyLength || len(m.To) != PublicKeyLength {
		return nil, fmt.Errorf("transfer message: account keys must be %d bytes", PublicKeyLength)
	}
	if len(m.RecentBlockhash) != 32 {
		return nil, fmt.Errorf("transfer message: blockhash must be 32 bytes")
	}
	systemProgram, err := base58.Decode(SystemProgramID)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransferIndex)
	binary.LittleEndian.PutUint64(data[4:12], m.Lamports)

	buf := make([]byte, 0, 3+1+3*32+32+1+1+1+2+1+len(data))
	buf = append(buf, 1, 0, 1)
	buf = appendCompactU16(buf, 3)
	buf = append(buf, m.From...)
	buf = append(buf, m.To...)
	buf = append(buf, systemProgram...)
	buf = append(buf, m.RecentBlockhash...)

	buf = appendCompactU16(buf, 1)
	buf = append(buf, 2)
	buf = appendCompactU16(buf, 2)
	buf = append(buf, 0, 1)
	buf = appendCompactU16(buf, len(data))
	buf = append(buf, data...)
	return buf, nil
}

// SignedTransaction is a wire-ready transaction with one signature.
type SignedTransaction struct {
	Raw       []byte
	Signature string // base58, doubles as the transaction id
}

// Base64 returns the encoding expected by sendTransaction.
func (t *SignedTransaction) Base64() string {
	return base64.StdEncoding.EncodeToString(t.Raw)
}

// SignTransfer serializes and signs m with key. key must own m.From.
func SignTransfer(key ed25519.PrivateKey, m *TransferMessage) (*SignedTransaction, error) {
	msg, err := m.Serialize()
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(key, msg)

	raw := make([]byte, 0, 1+len(sig)+len(msg))
	raw = appendCompactU16(raw, 1)
	raw = append(raw, sig...)
	raw = append(raw, msg...)

	return &SignedTransaction{Raw: raw, Signature: base58.Encode(sig)}, nil
}

// SignatureOf extracts the first signature of a serialized transaction.
func SignatureOf(raw []byte) (string, error) {
	if len(raw) < 1+ed25519.SignatureSize || raw[0] == 0 {
		return "", fmt.Errorf("transaction too short or unsigned")
	}
	return base58.Encode(raw[1 : 1+ed25519.SignatureSize]), nil
}

// appendCompactU16 appends the shortvec length encoding.
func appendCompactU16(b []byte, n int) []byte {
	for {
		elem := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(b, elem)
		}
		b = append(b, elem|0x80)
	}
}

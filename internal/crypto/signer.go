package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// systemProgramID is the Solana system program address.
const systemProgramID = "11111111111111111111111111111111"

// Signer signs Solana transactions with the wallet's ed25519 keypair.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner creates a Signer from an ed25519 private key.
func NewSigner(priv ed25519.PrivateKey) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: signer key has %d bytes", len(priv))
	}
	return &Signer{
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// PublicKey returns the wallet's base58-encoded public key.
func (s *Signer) PublicKey() string {
	return base58.Encode(s.pub)
}

// Sign signs an arbitrary message.
func (s *Signer) Sign(message []byte) []byte {
	return ed25519.Sign(s.priv, message)
}

// SignTransactionBase64 signs a base64-encoded serialized transaction as its
// fee payer, filling signature slot 0, and returns the signed transaction
// base64-encoded. Both legacy and versioned transactions are supported since
// the signature section layout is identical.
func (s *Signer) SignTransactionBase64(txBase64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("crypto: decode transaction: %w", err)
	}

	numSigs, sigOffset, err := decodeShortvec(raw)
	if err != nil {
		return "", fmt.Errorf("crypto: parse signature count: %w", err)
	}
	if numSigs == 0 {
		return "", errors.New("crypto: transaction reserves no signature slots")
	}

	msgStart := sigOffset + numSigs*ed25519.SignatureSize
	if msgStart >= len(raw) {
		return "", errors.New("crypto: transaction shorter than its signature section")
	}

	sig := ed25519.Sign(s.priv, raw[msgStart:])
	copy(raw[sigOffset:], sig)

	return base64.StdEncoding.EncodeToString(raw), nil
}

// TransactionSignature extracts the fee-payer signature of a signed
// transaction and returns it base58-encoded, which is also the transaction's
// on-chain identifier.
func TransactionSignature(txBase64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("crypto: decode transaction: %w", err)
	}

	numSigs, sigOffset, err := decodeShortvec(raw)
	if err != nil {
		return "", fmt.Errorf("crypto: parse signature count: %w", err)
	}
	if numSigs == 0 || sigOffset+ed25519.SignatureSize > len(raw) {
		return "", errors.New("crypto: transaction carries no signature")
	}

	return base58.Encode(raw[sigOffset : sigOffset+ed25519.SignatureSize]), nil
}

// TipTransaction builds and signs a minimal SOL transfer from the wallet to
// the given tip account, for inclusion as the last transaction of a bundle.
func (s *Signer) TipTransaction(tipAccount string, lamports uint64, recentBlockhash string) (string, error) {
	tipKey, err := base58.Decode(tipAccount)
	if err != nil || len(tipKey) != 32 {
		return "", fmt.Errorf("crypto: invalid tip account %q", tipAccount)
	}
	blockhash, err := base58.Decode(recentBlockhash)
	if err != nil || len(blockhash) != 32 {
		return "", fmt.Errorf("crypto: invalid blockhash %q", recentBlockhash)
	}
	systemKey, err := base58.Decode(systemProgramID)
	if err != nil {
		return "", fmt.Errorf("crypto: decode system program id: %w", err)
	}

	// Legacy message: header, account keys, blockhash, one transfer
	// instruction. Accounts: payer (signer, writable), tip account
	// (writable), system program.
	var msg []byte
	msg = append(msg, 1, 0, 1)
	msg = appendShortvec(msg, 3)
	msg = append(msg, s.pub...)
	msg = append(msg, tipKey...)
	msg = append(msg, systemKey...)
	msg = append(msg, blockhash...)

	// Transfer instruction data: u32 instruction index 2, u64 lamports.
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	msg = appendShortvec(msg, 1)
	msg = append(msg, 2) // program id index
	msg = appendShortvec(msg, 2)
	msg = append(msg, 0, 1) // account indexes: payer, tip
	msg = appendShortvec(msg, len(data))
	msg = append(msg, data...)

	sig := ed25519.Sign(s.priv, msg)

	var tx []byte
	tx = appendShortvec(tx, 1)
	tx = append(tx, sig...)
	tx = append(tx, msg...)

	return base64.StdEncoding.EncodeToString(tx), nil
}

// decodeShortvec reads a compact-u16 length prefix, returning the value and
// the number of bytes consumed.
func decodeShortvec(buf []byte) (int, int, error) {
	value := 0
	for i := 0; i < 3; i++ {
		if i >= len(buf) {
			return 0, 0, errors.New("truncated compact-u16")
		}
		b := buf[i]
		value |= int(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, errors.New("compact-u16 too long")
}

func appendShortvec(buf []byte, n int) []byte {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

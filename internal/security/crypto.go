// Package security provides the operator identity and EIP-191 signature
// checks. Every node has a secp256k1 keypair; its address is the owner
// of the hub, rewards pool and bridge it runs.
package security

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/imperfect-abs/abshub/internal/domain"
)

// Keypair holds the node's secp256k1 identity.
type Keypair struct {
	Private *ecdsa.PrivateKey
}

// GenerateKeypair creates a new secp256k1 keypair.
func GenerateKeypair() (*Keypair, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate secp256k1 keypair: %w", err)
	}
	return &Keypair{Private: key}, nil
}

// LoadOrCreateKeypair loads the operator key from home/keys/operator.key,
// or generates and saves one on first run.
func LoadOrCreateKeypair(home string) (*Keypair, error) {
	keyDir := filepath.Join(home, "keys")
	keyPath := filepath.Join(keyDir, "operator.key")

	raw, err := os.ReadFile(keyPath)
	if err == nil {
		key, err := crypto.HexToECDSA(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("decode operator key: %w", err)
		}
		return &Keypair{Private: key}, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read operator key: %w", err)
	}

	kp, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(crypto.FromECDSA(kp.Private))), 0600); err != nil {
		return nil, fmt.Errorf("write operator key: %w", err)
	}
	return kp, nil
}

// Address returns the account address of the keypair.
func (kp *Keypair) Address() common.Address {
	return crypto.PubkeyToAddress(kp.Private.PublicKey)
}

// SignText signs msg as an EIP-191 personal message. V is 27 or 28, as
// wallets produce it.
func (kp *Keypair) SignText(msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), kp.Private)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverSigner returns the address that signed msg as a personal
// message. Both 0/1 and 27/28 recovery IDs are accepted.
func RecoverSigner(msg, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature is %d bytes", domain.ErrInvalidSignature, len(sig))
	}
	s := make([]byte, len(sig))
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(msg), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySigner checks that want signed msg.
func VerifySigner(msg, sig []byte, want common.Address) error {
	got, err := RecoverSigner(msg, sig)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: signed by %s", domain.ErrInvalidSignature, got.Hex())
	}
	return nil
}

// WorkoutMessage is the text a user signs to submit a workout.
func WorkoutMessage(sub domain.Submission) []byte {
	return []byte(fmt.Sprintf(
		"abshub workout\nuser: %s\nreps: %d\nformAccuracy: %d\nstreak: %d\nduration: %d\nlatitude: %d\nlongitude: %d",
		sub.User.Hex(), sub.Reps, sub.FormAccuracy, sub.Streak, sub.Duration, sub.Latitude, sub.Longitude,
	))
}

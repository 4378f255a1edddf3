package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/imperfect-abs/abshub/internal/domain"
)

// ─── Keypair ────────────────────────────────────────────────────────────────

func TestGenerateKeypair_Unique(t *testing.T) {
	kp1, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	kp2, _ := GenerateKeypair()
	if kp1.Address() == kp2.Address() {
		t.Error("two generated keypairs should have different addresses")
	}
}

func TestLoadOrCreateKeypair(t *testing.T) {
	home := t.TempDir()

	kp1, err := LoadOrCreateKeypair(home)
	if err != nil {
		t.Fatalf("first load error: %v", err)
	}
	info, err := os.Stat(filepath.Join(home, "keys", "operator.key"))
	if err != nil {
		t.Fatalf("key file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}

	kp2, err := LoadOrCreateKeypair(home)
	if err != nil {
		t.Fatalf("second load error: %v", err)
	}
	if kp1.Address() != kp2.Address() {
		t.Error("reload should return the same identity")
	}
}

func TestLoadOrCreateKeypair_Corrupt(t *testing.T) {
	home := t.TempDir()
	os.MkdirAll(filepath.Join(home, "keys"), 0700)
	os.WriteFile(filepath.Join(home, "keys", "operator.key"), []byte("not hex"), 0600)

	if _, err := LoadOrCreateKeypair(home); err == nil {
		t.Error("corrupt key file should fail")
	}
}

// ─── Signatures ─────────────────────────────────────────────────────────────

func TestSignText_Recover(t *testing.T) {
	kp, _ := GenerateKeypair()
	msg := []byte("hello abshub")

	sig, err := kp.SignText(msg)
	if err != nil {
		t.Fatalf("SignText() error: %v", err)
	}
	if len(sig) != 65 || (sig[64] != 27 && sig[64] != 28) {
		t.Errorf("sig len %d v %d", len(sig), sig[64])
	}

	got, err := RecoverSigner(msg, sig)
	if err != nil {
		t.Fatalf("RecoverSigner() error: %v", err)
	}
	if got != kp.Address() {
		t.Errorf("recovered %s, want %s", got.Hex(), kp.Address().Hex())
	}

	// Raw 0/1 recovery IDs are accepted too.
	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	if got, err := RecoverSigner(msg, raw); err != nil || got != kp.Address() {
		t.Errorf("raw v: %s %v", got.Hex(), err)
	}
}

func TestVerifySigner(t *testing.T) {
	kp, _ := GenerateKeypair()
	other, _ := GenerateKeypair()
	sub := domain.Submission{User: kp.Address(), Reps: 10, FormAccuracy: 85, Streak: 3, Duration: 120}
	msg := WorkoutMessage(sub)
	sig, _ := kp.SignText(msg)

	if err := VerifySigner(msg, sig, kp.Address()); err != nil {
		t.Errorf("VerifySigner() own signature: %v", err)
	}
	if err := VerifySigner(msg, sig, other.Address()); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Errorf("wrong signer err = %v", err)
	}

	tampered := sub
	tampered.Reps = 500
	if err := VerifySigner(WorkoutMessage(tampered), sig, kp.Address()); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Errorf("tampered message err = %v", err)
	}
	if err := VerifySigner(msg, sig[:64], kp.Address()); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Errorf("short signature err = %v", err)
	}
}

func TestWorkoutMessage_BindsAllFields(t *testing.T) {
	base := domain.Submission{User: common.HexToAddress("0x01"), Reps: 1, FormAccuracy: 2, Streak: 3, Duration: 4, Latitude: 5, Longitude: 6}
	variants := []func(*domain.Submission){
		func(s *domain.Submission) { s.User = common.HexToAddress("0x02") },
		func(s *domain.Submission) { s.Reps++ },
		func(s *domain.Submission) { s.FormAccuracy++ },
		func(s *domain.Submission) { s.Streak++ },
		func(s *domain.Submission) { s.Duration++ },
		func(s *domain.Submission) { s.Latitude++ },
		func(s *domain.Submission) { s.Longitude++ },
	}
	want := string(WorkoutMessage(base))
	for i, mutate := range variants {
		s := base
		mutate(&s)
		if string(WorkoutMessage(s)) == want {
			t.Errorf("variant %d does not change the message", i)
		}
	}
}

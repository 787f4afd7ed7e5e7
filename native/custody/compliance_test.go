package custody

import (
	"bytes"
	"errors"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func newComplianceEnv(t *testing.T) (*testEnv, *Compliance) {
	t.Helper()
	env := newTestEnv(t)
	return env, NewCompliance(env.engine)
}

func TestRecordDigest(t *testing.T) {
	env, compliance := newComplianceEnv(t)
	id := env.mustCreate(t, 100)

	if _, err := compliance.RecordDigest(addrStranger, id, []byte("contract")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := compliance.RecordDigest(addrOriginator, id, nil); err == nil {
		t.Fatal("expected empty payload rejection")
	}
	digest, err := compliance.RecordDigest(addrOriginator, id, []byte("contract"))
	if err != nil {
		t.Fatalf("record digest: %v", err)
	}
	if !bytes.Equal(digest[:], ethcrypto.Keccak256([]byte("contract"))) {
		t.Fatal("digest is not the keccak256 of the payload")
	}
	if _, err := compliance.RecordDigest(addrBeneficiary, id, []byte("amendment")); err != nil {
		t.Fatalf("beneficiary digest: %v", err)
	}
	if got := compliance.Digests(id); len(got) != 2 {
		t.Fatalf("expected 2 digests, got %d", len(got))
	}
	if env.emitter.lastType() != EventTypeDigestRecorded {
		t.Fatalf("expected digest event, got %s", env.emitter.lastType())
	}
}

func TestProbeRateLimitWindow(t *testing.T) {
	env, compliance := newComplianceEnv(t)

	for i := 0; i < RateLimitMaxProbes; i++ {
		allowed, err := compliance.ProbeRateLimit(addrStranger)
		if err != nil {
			t.Fatalf("probe %d: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("probe %d should be within budget", i+1)
		}
	}
	allowed, err := compliance.ProbeRateLimit(addrStranger)
	if err != nil {
		t.Fatalf("probe over budget: %v", err)
	}
	if allowed {
		t.Fatal("probe over budget should be denied")
	}

	// Another caller has an independent budget.
	if allowed, _ := compliance.ProbeRateLimit(addrBeneficiary); !allowed {
		t.Fatal("distinct caller should have a fresh budget")
	}

	// Once the window slides past the recorded probes the budget resets.
	env.clock.height += RateLimitWindow + 1
	if allowed, _ := compliance.ProbeRateLimit(addrStranger); !allowed {
		t.Fatal("budget should reset after the window passes")
	}
}

func TestCertificationHeartbeat(t *testing.T) {
	env, compliance := newComplianceEnv(t)
	id := env.mustCreate(t, 100)

	if _, ok := compliance.LastCertification(addrOriginator); ok {
		t.Fatal("no heartbeat recorded yet")
	}
	if err := compliance.RegisterCertification(addrStranger, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := compliance.RegisterCertification(addrOriginator, id); err != nil {
		t.Fatalf("certify: %v", err)
	}
	env.clock.height += 50
	if err := compliance.RegisterCertification(addrOriginator, id); err != nil {
		t.Fatalf("re-certify: %v", err)
	}
	height, ok := compliance.LastCertification(addrOriginator)
	if !ok || height != env.clock.height {
		t.Fatalf("heartbeat should track the latest height, got %d", height)
	}
}

func TestRegisterCosigner(t *testing.T) {
	env, compliance := newComplianceEnv(t)
	id := env.mustCreate(t, 100)

	if err := compliance.RegisterCosigner(addrBeneficiary, id, addrStranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected originator-only, got %v", err)
	}
	if err := compliance.RegisterCosigner(addrOriginator, id, addrOriginator); err == nil {
		t.Fatal("originator cannot cosign their own basket")
	}
	if err := compliance.RegisterCosigner(addrOriginator, id, [20]byte{}); err == nil {
		t.Fatal("zero cosigner should be rejected")
	}
	if err := compliance.RegisterCosigner(addrOriginator, id, addrStranger); err != nil {
		t.Fatalf("register cosigner: %v", err)
	}
	// Re-registering the same cosigner is idempotent.
	if err := compliance.RegisterCosigner(addrOriginator, id, addrStranger); err != nil {
		t.Fatalf("re-register cosigner: %v", err)
	}
	if got := compliance.CosignerCount(id); got != 1 {
		t.Fatalf("expected 1 cosigner, got %d", got)
	}
}

func TestPremiumVerificationChecks(t *testing.T) {
	env, compliance := newComplianceEnv(t)
	premium := env.mustCreate(t, 20_000)
	standard := env.mustCreate(t, 100)

	// Unconfigured verifiers reject even authorized premium callers.
	if err := compliance.VerifyHardwareAttestation(addrOriginator, premium, []byte("proof")); err == nil {
		t.Fatal("expected unconfigured verifier rejection")
	}

	var lastProof []byte
	compliance.SetHardwareVerifier(VerifierFunc(func(_ uint64, proof []byte) error {
		lastProof = proof
		return nil
	}))
	compliance.SetQuantumVerifier(VerifierFunc(func(uint64, []byte) error {
		return errors.New("signature mismatch")
	}))

	if err := compliance.VerifyHardwareAttestation(addrOriginator, standard, []byte("proof")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("standard-tier basket should be gated, got %v", err)
	}
	if err := compliance.VerifyHardwareAttestation(addrOriginator, premium, []byte("proof")); err != nil {
		t.Fatalf("hardware verification: %v", err)
	}
	if !bytes.Equal(lastProof, []byte("proof")) {
		t.Fatal("proof not forwarded to the verifier")
	}
	if env.emitter.lastType() != EventTypeVerification {
		t.Fatalf("expected verification event, got %s", env.emitter.lastType())
	}

	// A failing verifier surfaces its error and still emits the outcome.
	if err := compliance.VerifyQuantumSignature(addrOriginator, premium, []byte("proof")); err == nil {
		t.Fatal("expected quantum verifier failure")
	}
	if env.emitter.lastType() != EventTypeVerification {
		t.Fatalf("expected verification event, got %s", env.emitter.lastType())
	}
}

package custody

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"basketd/core/types"
)

const (
	// RateLimitWindow is the height window inspected by rate-limit probes.
	RateLimitWindow uint64 = 10
	// RateLimitMaxProbes is the number of probes allowed per window.
	RateLimitMaxProbes = 10
)

// Verifier is the pass/fail contract for pluggable proof checkers (hardware
// attestation, quantum signatures, zero-knowledge proofs). The custody layer
// never inspects the cryptographic internals.
type Verifier interface {
	Verify(basketID uint64, proof []byte) error
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(basketID uint64, proof []byte) error

// Verify implements Verifier.
func (f VerifierFunc) Verify(basketID uint64, proof []byte) error { return f(basketID, proof) }

// Compliance layers the advisory operations on top of the engine: digest
// recording, rate-limit probes, certification heartbeats, cosigner
// bookkeeping and the premium verification checks. Every operation reads
// basket state, validates inputs and emits an event; none of them ever
// writes to the basket registry.
type Compliance struct {
	engine   *Engine
	hardware Verifier
	quantum  Verifier
	zk       Verifier

	mu             sync.Mutex
	digests        map[uint64][][32]byte
	probes         map[[20]byte][]uint64
	certifications map[[20]byte]uint64
	cosigners      map[uint64]map[[20]byte]bool
}

// NewCompliance builds the advisory layer over an engine. Nil verifiers
// reject their checks until configured.
func NewCompliance(engine *Engine) *Compliance {
	return &Compliance{
		engine:         engine,
		digests:        make(map[uint64][][32]byte),
		probes:         make(map[[20]byte][]uint64),
		certifications: make(map[[20]byte]uint64),
		cosigners:      make(map[uint64]map[[20]byte]bool),
	}
}

// SetHardwareVerifier configures the hardware attestation checker.
func (c *Compliance) SetHardwareVerifier(v Verifier) { c.hardware = v }

// SetQuantumVerifier configures the quantum signature checker.
func (c *Compliance) SetQuantumVerifier(v Verifier) { c.quantum = v }

// SetZeroKnowledgeVerifier configures the zero-knowledge proof checker.
func (c *Compliance) SetZeroKnowledgeVerifier(v Verifier) { c.zk = v }

func (c *Compliance) basket(id uint64) (*Basket, error) {
	if c == nil || c.engine == nil {
		return nil, ErrNilState
	}
	return c.engine.Get(id)
}

// RecordDigest hashes the supplied payload and records the digest against the
// basket for audit.
func (c *Compliance) RecordDigest(caller [20]byte, id uint64, payload []byte) ([32]byte, error) {
	var digest [32]byte
	basket, err := c.basket(id)
	if err != nil {
		return digest, err
	}
	if err := c.engine.authorize(OpRecordDigest, caller, basket); err != nil {
		return digest, err
	}
	if len(payload) == 0 {
		return digest, fmt.Errorf("custody: empty digest payload")
	}
	copy(digest[:], ethcrypto.Keccak256(payload))
	c.mu.Lock()
	c.digests[id] = append(c.digests[id], digest)
	c.mu.Unlock()
	c.engine.emit(newBasketEvent(EventTypeDigestRecorded, basket, map[string]string{
		"digest": hex.EncodeToString(digest[:]),
	}))
	return digest, nil
}

// Digests returns the digests recorded for a basket.
func (c *Compliance) Digests(id uint64) [][32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][32]byte, len(c.digests[id]))
	copy(out, c.digests[id])
	return out
}

// ProbeRateLimit reports whether the caller is within the probe budget for
// the current height window.
func (c *Compliance) ProbeRateLimit(caller [20]byte) (bool, error) {
	if c == nil || c.engine == nil {
		return false, ErrNilState
	}
	if err := c.engine.authorize(OpProbeRateLimit, caller, nil); err != nil {
		return false, err
	}
	height := c.engine.height()
	cutoff := uint64(0)
	if height > RateLimitWindow {
		cutoff = height - RateLimitWindow
	}
	c.mu.Lock()
	recent := c.probes[caller][:0]
	for _, h := range c.probes[caller] {
		if h >= cutoff {
			recent = append(recent, h)
		}
	}
	allowed := len(recent) < RateLimitMaxProbes
	if allowed {
		recent = append(recent, height)
	}
	c.probes[caller] = recent
	c.mu.Unlock()
	c.engine.emit(&types.Event{
		Type: EventTypeRateLimitProbed,
		Attributes: map[string]string{
			"caller":  hex.EncodeToString(caller[:]),
			"height":  strconv.FormatUint(height, 10),
			"allowed": strconv.FormatBool(allowed),
		},
	})
	return allowed, nil
}

// RegisterCertification records a heartbeat height for the calling party.
func (c *Compliance) RegisterCertification(caller [20]byte, id uint64) error {
	basket, err := c.basket(id)
	if err != nil {
		return err
	}
	if err := c.engine.authorize(OpCertify, caller, basket); err != nil {
		return err
	}
	height := c.engine.height()
	c.mu.Lock()
	c.certifications[caller] = height
	c.mu.Unlock()
	c.engine.emit(newBasketEvent(EventTypeCertification, basket, map[string]string{
		"caller": hex.EncodeToString(caller[:]),
		"height": strconv.FormatUint(height, 10),
	}))
	return nil
}

// LastCertification returns the height of the caller's most recent heartbeat.
func (c *Compliance) LastCertification(caller [20]byte) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	height, ok := c.certifications[caller]
	return height, ok
}

// RegisterCosigner records an additional signing party against a basket.
// This is bookkeeping only; cosigners gain no authority over transitions.
func (c *Compliance) RegisterCosigner(caller [20]byte, id uint64, cosigner [20]byte) error {
	basket, err := c.basket(id)
	if err != nil {
		return err
	}
	if err := c.engine.authorize(OpRegisterCosigner, caller, basket); err != nil {
		return err
	}
	if cosigner == ([20]byte{}) || cosigner == basket.Originator {
		return fmt.Errorf("custody: invalid cosigner")
	}
	c.mu.Lock()
	if c.cosigners[id] == nil {
		c.cosigners[id] = make(map[[20]byte]bool)
	}
	c.cosigners[id][cosigner] = true
	count := len(c.cosigners[id])
	c.mu.Unlock()
	c.engine.emit(newBasketEvent(EventTypeCosignerRegistered, basket, map[string]string{
		"cosigner": hex.EncodeToString(cosigner[:]),
		"count":    strconv.Itoa(count),
	}))
	return nil
}

// CosignerCount returns the number of cosigners registered for a basket.
func (c *Compliance) CosignerCount(id uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cosigners[id])
}

// VerifyHardwareAttestation runs the premium hardware attestation check.
func (c *Compliance) VerifyHardwareAttestation(caller [20]byte, id uint64, proof []byte) error {
	return c.verify(OpVerifyHardware, c.hardware, "hardware", caller, id, proof)
}

// VerifyQuantumSignature runs the premium quantum signature check.
func (c *Compliance) VerifyQuantumSignature(caller [20]byte, id uint64, proof []byte) error {
	return c.verify(OpVerifyQuantum, c.quantum, "quantum", caller, id, proof)
}

// VerifyZeroKnowledgeProof runs the premium zero-knowledge proof check.
func (c *Compliance) VerifyZeroKnowledgeProof(caller [20]byte, id uint64, proof []byte) error {
	return c.verify(OpVerifyZeroKnowledge, c.zk, "zero-knowledge", caller, id, proof)
}

func (c *Compliance) verify(op Operation, verifier Verifier, kind string, caller [20]byte, id uint64, proof []byte) error {
	basket, err := c.basket(id)
	if err != nil {
		return err
	}
	if err := c.engine.authorize(op, caller, basket); err != nil {
		return err
	}
	if verifier == nil {
		return fmt.Errorf("custody: %s verifier not configured", kind)
	}
	verifyErr := verifier.Verify(id, proof)
	c.engine.emit(newBasketEvent(EventTypeVerification, basket, map[string]string{
		"kind":   kind,
		"passed": strconv.FormatBool(verifyErr == nil),
	}))
	return verifyErr
}

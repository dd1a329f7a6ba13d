package graphmodel

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Domain-prefixed ID kinds, per spec §3 ("unique string IDs (domain-prefixed,
// e.g. dec_, eng_, nk_)").
const (
	prefixDecision          = "dec"
	prefixEngram            = "eng"
	prefixCodeChange        = "chg"
	prefixOutcome           = "out"
	prefixNegativeKnowledge = "nk"
	prefixAntiPattern       = "ap"
	prefixSkill             = "skl"
	prefixSignal            = "sig"
	prefixPlanRecord        = "pln"
)

// newID returns a domain-prefixed ID of the form "<prefix>_<16hex>", e.g.
// "dec_0123456789abcdef", matching the scenario 1 acceptance criterion.
func newID(prefix string) string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is a fatal platform condition; there is no
		// sane degraded ID scheme to fall back to.
		panic(fmt.Sprintf("graphmodel: crypto/rand unavailable: %v", err))
	}
	return prefix + "_" + hex.EncodeToString(buf[:])
}

// NewDecisionID returns a new Decision node ID.
func NewDecisionID() string { return newID(prefixDecision) }

// NewEngramID returns a new Engram node ID.
func NewEngramID() string { return newID(prefixEngram) }

// NewCodeChangeID returns a new CodeChange node ID.
func NewCodeChangeID() string { return newID(prefixCodeChange) }

// NewOutcomeID returns a new Outcome node ID.
func NewOutcomeID() string { return newID(prefixOutcome) }

// NewNegativeKnowledgeID returns a new NegativeKnowledge node ID.
func NewNegativeKnowledgeID() string { return newID(prefixNegativeKnowledge) }

// NewAntiPatternID returns a new AntiPattern node ID.
func NewAntiPatternID() string { return newID(prefixAntiPattern) }

// NewSkillID returns a new Skill node ID.
func NewSkillID() string { return newID(prefixSkill) }

// NewSignalID returns a new pending-signal ID.
func NewSignalID() string { return newID(prefixSignal) }

// NewPlanRecordID returns a new PlanRecord node ID.
func NewPlanRecordID() string { return newID(prefixPlanRecord) }

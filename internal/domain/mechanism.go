package domain

import (
	"encoding/json"
	"fmt"
)

// MechanismKind names a pricing mechanism variant.
type MechanismKind string

const (
	MechanismWeighted   MechanismKind = "weighted-cpmm"
	MechanismSinglePool MechanismKind = "single-pool-cpmm"
	MechanismMultiPool  MechanismKind = "multi-pool-cpmm"
)

// Mechanism is the closed set of AMM pool variants a market can carry.
// The unexported method seals the set so that every consumer dispatches
// with an exhaustive type switch; an unknown variant is always an error,
// never a silent default.
type Mechanism interface {
	Kind() MechanismKind
	// Clone returns a deep copy so snapshot reads never alias live state.
	Clone() Mechanism
	isMechanism()
}

// WeightedPool is the probability-weighted binary CPMM ("cpmm-1"): the
// conserved quantity is Yes^P * No^(1-P).
type WeightedPool struct {
	Yes float64
	No  float64
	P   float64
}

func (WeightedPool) Kind() MechanismKind { return MechanismWeighted }
func (WeightedPool) isMechanism()        {}

func (w WeightedPool) Clone() Mechanism { return w }

// SimplePool is the plain constant-product two-reserve pool: the conserved
// quantity is Yes * No and the implied price of an outcome is the opposing
// reserve over the reserve sum.
type SimplePool struct {
	Yes float64
	No  float64
}

func (SimplePool) Kind() MechanismKind { return MechanismSinglePool }
func (SimplePool) isMechanism()        {}

func (s SimplePool) Clone() Mechanism { return s }

// AnswerPool is one answer's YES/NO reserve pair inside a MultiPool.
// Answer pools are priced as weighted pools at fixed P = 0.5.
type AnswerPool struct {
	Yes float64
	No  float64
}

// MultiPool holds one independent binary pool per named answer
// ("multi-pool-cpmm"). Each answer trades against its own pool.
type MultiPool struct {
	Answers map[string]AnswerPool
}

func (MultiPool) Kind() MechanismKind { return MechanismMultiPool }
func (MultiPool) isMechanism()        {}

func (m MultiPool) Clone() Mechanism {
	answers := make(map[string]AnswerPool, len(m.Answers))
	for id, p := range m.Answers {
		answers[id] = p
	}
	return MultiPool{Answers: answers}
}

// mechanismJSON is the storage envelope for a Mechanism. The kind tag
// selects which fields are meaningful.
type mechanismJSON struct {
	Kind    MechanismKind         `json:"kind"`
	Yes     float64               `json:"yes,omitempty"`
	No      float64               `json:"no,omitempty"`
	P       float64               `json:"p,omitempty"`
	Answers map[string]AnswerPool `json:"answers,omitempty"`
}

// EncodeMechanism serializes a Mechanism into its JSON storage envelope.
func EncodeMechanism(m Mechanism) ([]byte, error) {
	var env mechanismJSON
	switch v := m.(type) {
	case WeightedPool:
		env = mechanismJSON{Kind: MechanismWeighted, Yes: v.Yes, No: v.No, P: v.P}
	case SimplePool:
		env = mechanismJSON{Kind: MechanismSinglePool, Yes: v.Yes, No: v.No}
	case MultiPool:
		env = mechanismJSON{Kind: MechanismMultiPool, Answers: v.Answers}
	default:
		return nil, fmt.Errorf("domain: encode mechanism: unknown variant %T", m)
	}
	return json.Marshal(env)
}

// DecodeMechanism parses the JSON storage envelope back into a Mechanism.
func DecodeMechanism(data []byte) (Mechanism, error) {
	var env mechanismJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("domain: decode mechanism: %w", err)
	}
	switch env.Kind {
	case MechanismWeighted:
		return WeightedPool{Yes: env.Yes, No: env.No, P: env.P}, nil
	case MechanismSinglePool:
		return SimplePool{Yes: env.Yes, No: env.No}, nil
	case MechanismMultiPool:
		answers := env.Answers
		if answers == nil {
			answers = map[string]AnswerPool{}
		}
		return MultiPool{Answers: answers}, nil
	default:
		return nil, fmt.Errorf("domain: decode mechanism: unknown kind %q", env.Kind)
	}
}

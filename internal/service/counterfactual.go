package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/cardio-risk-server/internal/domain"
)

// Predictor returns the positive-class probability for a raw feature vector.
type Predictor interface {
	Probability(vec domain.FeatureVector) (float64, error)
}

// Controlled blood pressure used by the BP scenario.
const (
	controlledSystolic  = 130
	controlledDiastolic = 85
)

type scenario struct {
	change  string
	applies func(in *domain.PatientInput) bool
	modify  func(in *domain.PatientInput)
}

// whatIfScenarios are reported in this order.
var whatIfScenarios = []scenario{
	{
		change:  "If smoking is stopped",
		applies: func(in *domain.PatientInput) bool { return in.Smoke == 1 },
		modify:  func(in *domain.PatientInput) { in.Smoke = 0 },
	},
	{
		change:  "If blood pressure is controlled",
		applies: func(in *domain.PatientInput) bool { return in.Systolic > controlledSystolic },
		modify: func(in *domain.PatientInput) {
			in.Systolic = controlledSystolic
			in.Diastolic = controlledDiastolic
		},
	},
	{
		change:  "If chest pain symptoms reduce",
		applies: func(in *domain.PatientInput) bool { return in.ChestPain.IsSignificant() },
		modify:  func(in *domain.PatientInput) { in.ChestPain = domain.ChestPainNone },
	},
}

// CounterfactualSimulator recomputes the probability under single-factor changes.
type CounterfactualSimulator struct {
	model Predictor
}

// NewCounterfactualSimulator creates a simulator over the given model.
func NewCounterfactualSimulator(model Predictor) *CounterfactualSimulator {
	return &CounterfactualSimulator{model: model}
}

// Simulate returns the unrounded baseline probability and the triggered scenarios.
// A scenario never reports more than the baseline. Scenarios are evaluated
// concurrently and slotted by index, so the order is fixed.
func (s *CounterfactualSimulator) Simulate(ctx context.Context, in *domain.PatientInput) (float64, []domain.WhatIfScenario, error) {
	vec, _ := Encode(in)
	baseline, err := s.model.Probability(vec)
	if err != nil {
		return 0, nil, fmt.Errorf("baseline probability: %w", err)
	}

	results := make([]*domain.WhatIfScenario, len(whatIfScenarios))
	g, ctx := errgroup.WithContext(ctx)
	for i, sc := range whatIfScenarios {
		if !sc.applies(in) {
			continue
		}
		i, sc := i, sc
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			modified := *in
			sc.modify(&modified)
			simVec, _ := Encode(&modified)
			p, err := s.model.Probability(simVec)
			if err != nil {
				return fmt.Errorf("scenario %q: %w", sc.change, err)
			}
			if p > baseline {
				p = baseline
			}
			results[i] = &domain.WhatIfScenario{Change: sc.change, NewProbability: round3(p)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}

	scenarios := make([]domain.WhatIfScenario, 0, len(results))
	for _, r := range results {
		if r != nil {
			scenarios = append(scenarios, *r)
		}
	}
	return baseline, scenarios, nil
}

// Package fewshot steers an OpenAI-compatible chat model by prompting: the
// persona description and its steer-set observations are rendered into a
// system preamble, and each query asks the model whether a hypothetical
// response is consistent with the persona.
package fewshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/sashabaranov/go-openai"

	"steerbench/internal/dataset"
	"steerbench/internal/logging"
	"steerbench/internal/steerable"
)

const (
	BackendType = "few_shot"

	defaultModel = "gpt-4o-mini"
)

func init() {
	steerable.Register(BackendType, func(config map[string]any) (steerable.Steerable, error) {
		return New(ParseConfig(config))
	})
}

// Config holds the construction parameters for the backend, as they appear
// under steerable_system_config.
type Config struct {
	Model       string  `json:"model"`
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url"`
	Temperature float32 `json:"temperature"`
	// IncludePersona and IncludeObservations control which sections render
	// into the preamble. Both default to true; disabling one gives an
	// ablation baseline.
	IncludePersona      bool `json:"include_persona"`
	IncludeObservations bool `json:"include_observations"`
}

// ParseConfig reads a Config out of the opaque backend parameters, applying
// defaults for anything absent.
func ParseConfig(raw map[string]any) Config {
	cfg := Config{
		Model:               defaultModel,
		IncludePersona:      true,
		IncludeObservations: true,
	}
	if v, ok := raw["model"].(string); ok && v != "" {
		cfg.Model = v
	}
	if v, ok := raw["api_key"].(string); ok {
		cfg.APIKey = v
	}
	if v, ok := raw["base_url"].(string); ok {
		cfg.BaseURL = v
	}
	if v, ok := raw["temperature"].(float64); ok {
		cfg.Temperature = float32(v)
	}
	if v, ok := raw["include_persona"].(bool); ok {
		cfg.IncludePersona = v
	}
	if v, ok := raw["include_observations"].(bool); ok {
		cfg.IncludeObservations = v
	}
	return cfg
}

// Backend is the few-shot factory. One shared client serves every steered
// instance; instances differ only in their rendered preamble.
type Backend struct {
	cfg    Config
	client *openai.Client
	logger *slog.Logger
}

// New builds a Backend from its parsed config.
func New(cfg Config) (*Backend, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("fewshot: model is required")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	return &Backend{
		cfg:    cfg,
		client: openai.NewClientWithConfig(cc),
		logger: logging.New("fewshot"),
	}, nil
}

// Capabilities implements steerable.Steerable. Steering is a pure prompt
// render, so everything is cheap and concurrent.
func (b *Backend) Capabilities() steerable.Capabilities {
	return steerable.Capabilities{
		ConcurrentSteering: true,
		BatchInference:     true,
		StatePersistence:   true,
	}
}

// Steer implements steerable.Steerable.
func (b *Backend) Steer(ctx context.Context, persona dataset.Persona, steerObs []dataset.Observation) (steerable.Steered, error) {
	preamble, err := renderPreamble(persona, steerObs, b.cfg.IncludePersona, b.cfg.IncludeObservations)
	if err != nil {
		return nil, fmt.Errorf("fewshot: render preamble: %w", err)
	}
	obsIDs := make([]string, len(steerObs))
	for i, o := range steerObs {
		obsIDs[i] = o.ID
	}
	b.logger.Debug("steered persona", "persona", persona.ID, "steer_observations", len(steerObs))
	return &steered{
		backend:  b,
		persona:  persona,
		obsIDs:   obsIDs,
		preamble: preamble,
	}, nil
}

// Restore implements steerable.Steerable. The snapshot carries the rendered
// preamble, so no model call is needed.
func (b *Backend) Restore(ctx context.Context, state steerable.State) (steerable.Steered, error) {
	if state.Type != BackendType {
		return nil, fmt.Errorf("fewshot: cannot restore state of type %q", state.Type)
	}
	var snap snapshot
	if err := json.Unmarshal(state.Payload, &snap); err != nil {
		return nil, fmt.Errorf("fewshot: decode state payload: %w", err)
	}
	return &steered{
		backend: b,
		persona: dataset.Persona{
			ID:          state.PersonaID,
			Description: snap.PersonaDescription,
			Framework:   snap.PersonaFramework,
		},
		obsIDs:   snap.SteerObservationIDs,
		preamble: snap.Preamble,
	}, nil
}

// snapshot is the serialized form of one steered instance.
type snapshot struct {
	PersonaDescription  string   `json:"persona_description"`
	PersonaFramework    string   `json:"persona_framework"`
	SteerObservationIDs []string `json:"steer_observation_ids"`
	Preamble            string   `json:"preamble"`
}

type steered struct {
	backend  *Backend
	persona  dataset.Persona
	obsIDs   []string
	preamble string
}

func (s *steered) Persona() dataset.Persona { return s.persona }

// Infer implements steerable.Steered.
func (s *steered) Infer(ctx context.Context, obs dataset.Observation) (string, error) {
	content, err := s.chat(ctx, renderQuery(obs))
	if err != nil {
		return "", err
	}
	var verdict struct {
		Agree *bool `json:"agree"`
	}
	if err := decodeModelJSON(content, &verdict); err != nil {
		// Malformed output is usually a sampling accident; retry it.
		return "", steerable.Transient("infer", fmt.Errorf("unparseable model output %q: %w", content, err))
	}
	if verdict.Agree == nil {
		// Valid JSON with the wrong shape is the model refusing the
		// contract, not a flake.
		return "", &steerable.InferenceError{
			PersonaID:     s.persona.ID,
			ObservationID: obs.ID,
			Msg:           fmt.Sprintf("model output %q has no agree verdict", content),
		}
	}
	if *verdict.Agree {
		return dataset.Agree, nil
	}
	return dataset.Disagree, nil
}

// InferBatch implements steerable.Steered. All observations go into one
// prompt; the model answers with a JSON array in input order.
func (s *steered) InferBatch(ctx context.Context, obs []dataset.Observation) ([]string, error) {
	if len(obs) == 0 {
		return nil, nil
	}
	content, err := s.chat(ctx, renderBatchQuery(obs))
	if err != nil {
		return nil, err
	}
	var verdicts []bool
	if err := decodeModelJSON(content, &verdicts); err != nil {
		return nil, steerable.Transient("infer_batch", fmt.Errorf("unparseable model output %q: %w", content, err))
	}
	if len(verdicts) != len(obs) {
		return nil, steerable.Transient("infer_batch",
			fmt.Errorf("model returned %d verdicts for %d observations", len(verdicts), len(obs)))
	}
	labels := make([]string, len(verdicts))
	for i, agree := range verdicts {
		if agree {
			labels[i] = dataset.Agree
		} else {
			labels[i] = dataset.Disagree
		}
	}
	return labels, nil
}

// State implements steerable.Steered.
func (s *steered) State() (steerable.State, error) {
	payload, err := json.Marshal(snapshot{
		PersonaDescription:  s.persona.Description,
		PersonaFramework:    s.persona.Framework,
		SteerObservationIDs: s.obsIDs,
		Preamble:            s.preamble,
	})
	if err != nil {
		return steerable.State{}, err
	}
	return steerable.State{
		Type:      BackendType,
		PersonaID: s.persona.ID,
		Payload:   payload,
	}, nil
}

func (s *steered) chat(ctx context.Context, query string) (string, error) {
	resp, err := s.backend.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.backend.cfg.Model,
		Temperature: s.backend.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: s.preamble},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
	})
	if err != nil {
		return "", classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", steerable.Transient("chat", fmt.Errorf("model returned no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyAPIError maps provider failures onto the retry contract: rate
// limits, server errors, and network faults are transient; everything else
// (bad request, bad key, cancellation) is fatal.
func classifyAPIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500 {
			return steerable.Transient("chat", err)
		}
		return err
	}
	// Anything else is a transport fault worth a retry.
	return steerable.Transient("chat", err)
}

// Package session steers a honcho-style session memory service: calibration
// replays the steer-set observations as a message history for a synthetic
// user, and inference asks the service's dialectic endpoint what that user
// would say. The service builds its own representation of the persona, so
// steering cost lives server-side and snapshots are just resource IDs.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"steerbench/internal/dataset"
	"steerbench/internal/logging"
	"steerbench/internal/steerable"
)

const (
	BackendType = "session"

	defaultAppName = "steerbench"
	readyPollEvery = 500 * time.Millisecond
)

func init() {
	steerable.Register(BackendType, func(config map[string]any) (steerable.Steerable, error) {
		return New(ParseConfig(config))
	})
}

// Config holds the construction parameters for the backend.
type Config struct {
	BaseURL string `json:"base_url"`
	AppName string `json:"app_name"`
	// TimeoutSeconds bounds each HTTP call. Zero means the default.
	TimeoutSeconds int `json:"timeout_seconds"`
	// WaitOnSteer blocks Steer until the service has derived a user
	// representation from the replayed history.
	WaitOnSteer bool `json:"wait_on_steer"`
}

// ParseConfig reads a Config out of the opaque backend parameters.
func ParseConfig(raw map[string]any) Config {
	cfg := Config{AppName: defaultAppName}
	if v, ok := raw["base_url"].(string); ok {
		cfg.BaseURL = v
	}
	if v, ok := raw["app_name"].(string); ok && v != "" {
		cfg.AppName = v
	}
	if v, ok := raw["timeout_seconds"].(float64); ok {
		cfg.TimeoutSeconds = int(v)
	}
	if v, ok := raw["wait_on_steer"].(bool); ok {
		cfg.WaitOnSteer = v
	}
	return cfg
}

// Backend is the session-service factory. The app is resolved lazily on the
// first Steer or Restore so construction never touches the network.
type Backend struct {
	cfg    Config
	client *client
	logger *slog.Logger

	appMu sync.Mutex
	appID string
}

// New builds a Backend from its parsed config.
func New(cfg Config) (*Backend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("session: base_url is required")
	}
	return &Backend{
		cfg:    cfg,
		client: newClient(strings.TrimRight(cfg.BaseURL, "/"), time.Duration(cfg.TimeoutSeconds)*time.Second),
		logger: logging.New("session"),
	}, nil
}

// Capabilities implements steerable.Steerable. The service serializes writes
// per session but sessions are independent, so steering runs concurrently.
func (b *Backend) Capabilities() steerable.Capabilities {
	return steerable.Capabilities{
		ConcurrentSteering: true,
		BatchInference:     false,
		StatePersistence:   true,
	}
}

func (b *Backend) ensureApp(ctx context.Context) (string, error) {
	b.appMu.Lock()
	defer b.appMu.Unlock()
	if b.appID != "" {
		return b.appID, nil
	}
	id, err := b.client.getOrCreateApp(ctx, b.cfg.AppName)
	if err != nil {
		return "", fmt.Errorf("session: resolve app %q: %w", b.cfg.AppName, err)
	}
	b.appID = id
	return id, nil
}

// Steer implements steerable.Steerable. Each calibration gets a fresh user
// handle so repeated runs never share server-side history.
func (b *Backend) Steer(ctx context.Context, persona dataset.Persona, steerObs []dataset.Observation) (steerable.Steered, error) {
	appID, err := b.ensureApp(ctx)
	if err != nil {
		return nil, err
	}
	username := uuid.NewString()
	userID, err := b.client.getOrCreateUser(ctx, appID, username)
	if err != nil {
		return nil, fmt.Errorf("session: create user: %w", err)
	}
	sessionID, err := b.client.createSession(ctx, appID, userID)
	if err != nil {
		return nil, fmt.Errorf("session: create session: %w", err)
	}
	s := &steered{
		backend:   b,
		persona:   persona,
		appID:     appID,
		userID:    userID,
		sessionID: sessionID,
	}
	if err := s.replayHistory(ctx, steerObs); err != nil {
		return nil, err
	}
	b.logger.Debug("steered persona", "persona", persona.ID, "user", username, "messages", 2*len(steerObs))
	if b.cfg.WaitOnSteer {
		if err := s.WaitUntilReady(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Restore implements steerable.Steerable. The server keeps the actual state;
// the snapshot only names the resources.
func (b *Backend) Restore(ctx context.Context, state steerable.State) (steerable.Steered, error) {
	if state.Type != BackendType {
		return nil, fmt.Errorf("session: cannot restore state of type %q", state.Type)
	}
	var snap snapshot
	if err := json.Unmarshal(state.Payload, &snap); err != nil {
		return nil, fmt.Errorf("session: decode state payload: %w", err)
	}
	if snap.AppID == "" || snap.UserID == "" || snap.SessionID == "" {
		return nil, fmt.Errorf("session: state payload is missing resource IDs")
	}
	return &steered{
		backend: b,
		persona: dataset.Persona{
			ID:          state.PersonaID,
			Description: snap.PersonaDescription,
			Framework:   snap.PersonaFramework,
		},
		appID:     snap.AppID,
		userID:    snap.UserID,
		sessionID: snap.SessionID,
	}, nil
}

// snapshot names the server-side resources holding one steered instance.
type snapshot struct {
	PersonaDescription string `json:"persona_description"`
	PersonaFramework   string `json:"persona_framework"`
	AppID              string `json:"app_id"`
	UserID             string `json:"user_id"`
	SessionID          string `json:"session_id"`
}

type steered struct {
	backend   *Backend
	persona   dataset.Persona
	appID     string
	userID    string
	sessionID string
}

func (s *steered) Persona() dataset.Persona { return s.persona }

// replayHistory writes each steer observation as an assistant question plus
// the persona's recorded answer.
func (s *steered) replayHistory(ctx context.Context, steerObs []dataset.Observation) error {
	for _, obs := range steerObs {
		question := fmt.Sprintf("Do you agree with this statement? %q. Respond with %q or %q and nothing else.",
			obs.Response, dataset.Agree, dataset.Disagree)
		if err := s.call(ctx, question, false); err != nil {
			return fmt.Errorf("session: replay question for %s: %w", obs.ID, err)
		}
		if err := s.call(ctx, obs.CorrectResponse, true); err != nil {
			return fmt.Errorf("session: replay answer for %s: %w", obs.ID, err)
		}
	}
	return nil
}

func (s *steered) call(ctx context.Context, content string, isUser bool) error {
	return s.backend.client.createMessage(ctx, s.appID, s.userID, s.sessionID, content, isUser)
}

// Infer implements steerable.Steered.
func (s *steered) Infer(ctx context.Context, obs dataset.Observation) (string, error) {
	query := fmt.Sprintf("If you had to make your best guess based on your knowledge of the user, would they agree with the statement: %q? Respond with %q or %q and nothing else.",
		obs.Response, dataset.Agree, dataset.Disagree)
	content, err := s.backend.client.chat(ctx, s.appID, s.userID, s.sessionID, []string{query})
	if err != nil {
		return "", err
	}
	label, ok := coerceLabel(content)
	if !ok {
		// The dialectic endpoint sometimes editorializes; worth a retry.
		return "", steerable.Transient("infer", fmt.Errorf("uncoercible dialectic answer %q", content))
	}
	return label, nil
}

// InferBatch implements steerable.Steered. The dialectic endpoint answers one
// query at a time.
func (s *steered) InferBatch(ctx context.Context, obs []dataset.Observation) ([]string, error) {
	return nil, fmt.Errorf("session: batch inference is not supported")
}

// State implements steerable.Steered.
func (s *steered) State() (steerable.State, error) {
	payload, err := json.Marshal(snapshot{
		PersonaDescription: s.persona.Description,
		PersonaFramework:   s.persona.Framework,
		AppID:              s.appID,
		UserID:             s.userID,
		SessionID:          s.sessionID,
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

// WaitUntilReady polls until the service has derived a user representation
// from the replayed history. Returns when the representation exists or the
// context ends.
func (s *steered) WaitUntilReady(ctx context.Context) error {
	ticker := time.NewTicker(readyPollEvery)
	defer ticker.Stop()
	for {
		rep, err := s.backend.client.userRepresentation(ctx, s.appID, s.userID, s.sessionID)
		if err != nil && !steerable.IsTransient(err) {
			return err
		}
		if rep != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// coerceLabel extracts the first decisive sentinel from a free-form answer.
func coerceLabel(content string) (string, bool) {
	for _, field := range strings.Fields(strings.ToUpper(content)) {
		trimmed := strings.Trim(field, `."',!`)
		switch trimmed {
		case dataset.Agree:
			return dataset.Agree, true
		case dataset.Disagree:
			return dataset.Disagree, true
		}
	}
	return "", false
}

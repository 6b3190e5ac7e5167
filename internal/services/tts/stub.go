package tts

import (
	"context"
	"fmt"
	"os"
	"strings"

	"showrunner/internal/services"
)

// Stub is the credential-free adapter. It writes a deterministic placeholder
// audio file so downstream stages have a real path to work with.
type Stub struct{}

func NewStub() *Stub { return &Stub{} }

func (s *Stub) Configured() bool { return false }

func (s *Stub) Synthesize(_ context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Dialogue) == "" {
		return Result{}, services.Wrap(services.ErrValidation, component, "synthesize", "dialogue required", nil)
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return Result{}, services.Wrap(services.ErrValidation, component, "synthesize", "output path required", nil)
	}
	payload := fmt.Sprintf("stub-audio scene=%s chars=%d\n", req.SceneID, len(req.Dialogue))
	if err := os.WriteFile(req.OutputPath, []byte(payload), 0o644); err != nil {
		return Result{}, services.Wrap(services.ErrStorage, component, "synthesize", "write stub artifact", err)
	}
	return Result{AudioPath: req.OutputPath, Characters: len(req.Dialogue)}, nil
}

func (s *Stub) Healthy(context.Context) error { return nil }

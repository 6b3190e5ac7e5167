package videogen

import (
	"context"
	"fmt"
	"os"

	"showrunner/internal/services"
)

// Stub is the credential-free adapter. It writes a deterministic placeholder
// segment and bills the scene's nominal duration.
type Stub struct{}

func NewStub() *Stub { return &Stub{} }

func (s *Stub) Configured() bool { return false }

func (s *Stub) Generate(_ context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}
	conditioned := req.CharacterRef != ""
	payload := fmt.Sprintf("stub-video scene=%s quality=%s seconds=%d conditioned=%t\n",
		req.SceneID, req.Quality, req.DurationSeconds, conditioned)
	if err := os.WriteFile(req.OutputPath, []byte(payload), 0o644); err != nil {
		return Result{}, services.Wrap(services.ErrStorage, component, "generate", "write stub artifact", err)
	}
	return Result{VideoPath: req.OutputPath, Seconds: req.DurationSeconds}, nil
}

func (s *Stub) Healthy(context.Context) error { return nil }

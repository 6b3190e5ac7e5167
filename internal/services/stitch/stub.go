package stitch

import (
	"context"
	"fmt"
	"os"
	"strings"

	"showrunner/internal/services"
)

// Stub is the credential-free adapter. It concatenates segment placeholder
// contents into the output file and derives placeholder clips.
type Stub struct{}

func NewStub() *Stub { return &Stub{} }

func (s *Stub) Configured() bool { return false }

func (s *Stub) Stitch(_ context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	var combined strings.Builder
	for _, path := range req.SegmentPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return Result{}, services.Wrap(services.ErrStorage, component, "stitch", fmt.Sprintf("read %s", path), err)
		}
		combined.Write(data)
	}
	for _, path := range req.AudioPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return Result{}, services.Wrap(services.ErrStorage, component, "stitch", fmt.Sprintf("read %s", path), err)
		}
		combined.Write(data)
	}
	if err := os.WriteFile(req.OutputPath, []byte(combined.String()), 0o644); err != nil {
		return Result{}, services.Wrap(services.ErrStorage, component, "stitch", "write stub output", err)
	}

	clipPaths := make([]string, 0, len(req.ClipDurations))
	for i, seconds := range req.ClipDurations {
		dest := clipPath(req.ClipDir, seconds, i)
		payload := fmt.Sprintf("stub-clip seconds=%d\n", seconds)
		if err := os.WriteFile(dest, []byte(payload), 0o644); err != nil {
			return Result{}, services.Wrap(services.ErrStorage, component, "stitch", "write stub clip", err)
		}
		clipPaths = append(clipPaths, dest)
	}
	return Result{VideoPath: req.OutputPath, ClipPaths: clipPaths}, nil
}

func (s *Stub) Healthy(context.Context) error { return nil }

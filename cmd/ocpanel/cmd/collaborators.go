package cmd

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/jmcleod/ocpanel/storage"
)

// execHotPatcher runs a fixed command for POST /api/hotpatch.
type execHotPatcher struct {
	argv []string
}

func newExecHotPatcher(command string) (*execHotPatcher, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.New("empty hotpatch command")
	}
	return &execHotPatcher{argv: argv}, nil
}

func (p *execHotPatcher) HotPatch(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...).CombinedOutput()
	return string(out), err
}

// panelStatus is the body of GET /api/status.
type panelStatus struct {
	Version         string `json:"version"`
	StartedAt       string `json:"startedAt"`
	UptimeSeconds   int64  `json:"uptimeSeconds"`
	Store           string `json:"store"`
	HotPatch        bool   `json:"hotPatch"`
	Goroutines      int    `json:"goroutines"`
	CredentialSetAt string `json:"credentialSetAt,omitempty"`
}

// processProber reports on the panel process itself.
type processProber struct {
	store    *storage.Store
	started  time.Time
	backend  string
	hotPatch bool
}

func (p *processProber) Status(context.Context) (any, error) {
	st := panelStatus{
		Version:       Version,
		StartedAt:     p.started.UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(p.started) / time.Second),
		Store:         p.backend,
		HotPatch:      p.hotPatch,
		Goroutines:    runtime.NumGoroutine(),
	}
	rec, err := p.store.Credential()
	if err != nil {
		return nil, err
	}
	if rec != nil {
		st.CredentialSetAt = rec.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return st, nil
}

// Package signer wraps the external certificate tool. The panel never
// touches key material itself; it hands the tool a client identifier and
// an action verb and trusts the exit status.
package signer

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Action is the verb passed to the certificate tool.
type Action string

const (
	ActionGenerate    Action = "generate"
	ActionRevoke      Action = "revoke"
	ActionGenerateCRL Action = "generate_crl"
)

// Signer invokes the external certificate tool for one identifier. A nil
// error means the tool reported success; any failure leaves state handling
// entirely to the caller (the tool itself never half-applies an action,
// per its contract).
type Signer interface {
	Run(ctx context.Context, certID string, action Action) error
}

// Script executes a configured script with (identifier, action) arguments
// under a bounded timeout. A hang surfaces as an error, never as an
// indefinite stall on the request path.
type Script struct {
	path    string
	timeout time.Duration
	log     *zap.Logger
}

func NewScript(path string, timeout time.Duration, log *zap.Logger) *Script {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Script{path: path, timeout: timeout, log: log}
}

func (s *Script) Run(ctx context.Context, certID string, action Action) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.path, certID, string(action))
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("signer script %q timed out after %s", s.path, s.timeout)
		}
		return fmt.Errorf("signer script %q (%s %s): %w: %s", s.path, certID, action, err, out)
	}

	s.log.Debug("signer script succeeded",
		zap.String("cert_id", certID),
		zap.String("action", string(action)))
	return nil
}

package signer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

const fakeSigner = "testdata/fake-signer.sh"

func TestScriptRun(t *testing.T) {
	s := NewScript(fakeSigner, 5*time.Second, zap.NewNop())

	assert.NoError(t, s.Run(context.Background(), "A1B2C3D", ActionGenerate))
	assert.NoError(t, s.Run(context.Background(), "A1B2C3D", ActionRevoke))
	assert.NoError(t, s.Run(context.Background(), "A1B2C3D", ActionGenerateCRL))
}

func TestScriptRunFailure(t *testing.T) {
	s := NewScript(fakeSigner, 5*time.Second, zap.NewNop())

	err := s.Run(context.Background(), "FAILME1", ActionRevoke)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unable to revoke")
}

func TestScriptRunMissingTool(t *testing.T) {
	s := NewScript("testdata/no-such-script.sh", 5*time.Second, zap.NewNop())

	assert.Error(t, s.Run(context.Background(), "A1B2C3D", ActionGenerate))
}

func TestScriptRunTimeout(t *testing.T) {
	s := NewScript(fakeSigner, 200*time.Millisecond, zap.NewNop())

	start := time.Now()
	err := s.Run(context.Background(), "SLEEPY1", ActionGenerate)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 3*time.Second)
}

package hooks

import (
	"testing"

	log "github.com/hashicorp/go-hclog"
)

func TestLoggingRunnerNeverErrors(t *testing.T) {
	r := NewLoggingRunner(log.NewNullLogger())

	for _, h := range []Hook{
		ServiceStartIn, ServiceStartNow, ServiceStartDone, ServiceStartOut,
		ServiceStopIn, ServiceStopNow, ServiceStopDone, ServiceStopOut,
	} {
		if err := r.Run(h, "sshd"); err != nil {
			t.Errorf("Run(%s, sshd) = %v, want nil", h, err)
		}
	}
}

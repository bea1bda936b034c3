package reporting

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestLogrusReportingClientLogsWarn(t *testing.T) {
	log, hook := test.NewNullLogger()
	client := NewLogrusReportingClient(log)
	client.OnRecoverableError(errors.New("boom"))

	require := hook.LastEntry()
	assert.NotNil(t, require)
	assert.Contains(t, require.Message, "boom")
}

// Package reporting implements the ReportingClient contract: a place for
// recoverable errors encountered mid-fan-out (no single caller to return
// them to) to be surfaced without interrupting the querier's state
// machine.
package reporting

import (
	"github.com/RackSec/srslog"
	"github.com/sirupsen/logrus"
)

// LogrusReportingClient logs recoverable errors through a logrus.FieldLogger,
// the default reporting sink, matching the way the rest of this module
// logs everything else.
type LogrusReportingClient struct {
	log logrus.FieldLogger
}

// NewLogrusReportingClient builds a LogrusReportingClient. A nil log uses
// logrus.StandardLogger().
func NewLogrusReportingClient(log logrus.FieldLogger) *LogrusReportingClient {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogrusReportingClient{log: log}
}

// OnRecoverableError logs err at Warn level.
func (c *LogrusReportingClient) OnRecoverableError(err error) {
	c.log.WithFields(logrus.Fields{"component": "mdns"}).Warn(err)
}

// SyslogReportingClient forwards recoverable errors to a syslog daemon via
// srslog, for embedders that centralize diagnostics there rather than in
// application logs. Grounded on the "syslog" resolver-group wiring in the
// teacher's CLI, adapted here to the narrower ReportingClient contract.
type SyslogReportingClient struct {
	writer *srslog.Writer
}

// NewSyslogReportingClient dials addr (network "udp" or "tcp"; empty uses
// the local syslog socket) and returns a client that writes recoverable
// errors at LOG_WARNING.
func NewSyslogReportingClient(network, addr, tag string) (*SyslogReportingClient, error) {
	var w *srslog.Writer
	var err error
	if addr == "" {
		w, err = srslog.New(srslog.LOG_WARNING, tag)
	} else {
		w, err = srslog.Dial(network, addr, srslog.LOG_WARNING, tag)
	}
	if err != nil {
		return nil, err
	}
	return &SyslogReportingClient{writer: w}, nil
}

// OnRecoverableError writes err to syslog at warning priority.
func (c *SyslogReportingClient) OnRecoverableError(err error) {
	_ = c.writer.Warning(err.Error())
}

// Close releases the underlying syslog connection.
func (c *SyslogReportingClient) Close() error {
	return c.writer.Close()
}

// Command mdnsdiscod is a thin smoke-testing shell around the mdns
// package: it opens a real mDNS multicast socket, wires it to a Querier,
// and prints every record event for the names given in its config file.
// It exists the same way the teacher's own cmd/routedns binary exists
// beside the importable rdns package - none of its logic belongs to the
// core, it just demonstrates wiring a real transport to it.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	mdns "github.com/folbricht/mdnsdisco"
	"github.com/folbricht/mdnsdisco/internal/contracts"
	"github.com/folbricht/mdnsdisco/internal/mrecord"
	"github.com/folbricht/mdnsdisco/internal/reporting"
	"github.com/folbricht/mdnsdisco/internal/taskrunner"
)

const mdnsAddr = "224.0.0.251:5353"

type options struct {
	logLevel uint32
	version  bool
}

func main() {
	var opt options
	cmd := &cobra.Command{
		Use:   "mdnsdiscod <config> [<config>..]",
		Short: "mDNS service discovery querier",
		Long: `mDNS service discovery querier.

Subscribes to the (name, type) pairs listed in one or more TOML config
files, sends the underlying mDNS questions, and prints every record
event received for them until interrupted.
`,
		Example: `  mdnsdiscod config.toml`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(opt, args)
		},
		SilenceUsage: true,
	}

	cmd.Flags().Uint32VarP(&opt.logLevel, "log-level", "l", 4, "log level; 0=None .. 6=Trace")
	cmd.Flags().BoolVarP(&opt.version, "version", "v", false, "Accepted but has no effect; no version string is printed")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func start(opt options, args []string) error {
	logrus.SetLevel(logrus.Level(opt.logLevel))

	cfg, err := loadConfig(args...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	conn, err := openMulticastSocket()
	if err != nil {
		return fmt.Errorf("opening mDNS socket: %w", err)
	}
	defer conn.Close()

	runner := taskrunner.NewSerialRunner()
	defer runner.Stop()

	reportingClient := reporting.NewLogrusReportingClient(nil)
	sender := &udpSender{conn: conn}

	querier := mdns.NewQuerier(sender, runner, reportingClient,
		mdns.WithMaxRecordsCached(cfg.Querier.maxRecordsCachedOrDefault()),
		mdns.WithKnownAnswerSuppression(cfg.Querier.KnownAnswerSuppression),
		mdns.WithEnableQuerying(cfg.Querier.enableQueryingOrDefault()),
	)

	for _, w := range cfg.Watches {
		dnsType, err := parseType(w.Type)
		if err != nil {
			return err
		}
		dnsClass := dns.ClassINET
		if w.Class != "" {
			c, ok := dns.StringToClass[w.Class]
			if !ok {
				return fmt.Errorf("unknown record class %q", w.Class)
			}
			dnsClass = c
		}
		name := w.Name
		runner.PostTask(func() {
			_ = querier.StartQuery(name, dnsType, dnsClass, func(r mrecord.MdnsRecord, e contracts.RecordEvent) {
				fmt.Printf("%s %s %s\n", e, r.Name(), dns.TypeToString[r.Type()])
			})
		})
	}

	go receiveLoop(conn, runner, querier)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}

func (c querierConfig) maxRecordsCachedOrDefault() int {
	if c.MaxRecordsCached <= 0 {
		return 1024
	}
	return c.MaxRecordsCached
}

func (c querierConfig) enableQueryingOrDefault() bool {
	return c.EnableQuerying
}

func parseType(name string) (uint16, error) {
	t, ok := dns.StringToType[name]
	if !ok {
		return 0, fmt.Errorf("unknown record type %q", name)
	}
	return t, nil
}

type udpSender struct {
	conn *net.UDPConn
}

func (s *udpSender) SendMulticast(msg *dns.Msg) error {
	b, err := msg.Pack()
	if err != nil {
		return err
	}
	dst, err := net.ResolveUDPAddr("udp4", mdnsAddr)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(b, dst)
	return err
}

func openMulticastSocket() (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp4", mdnsAddr)
	if err != nil {
		return nil, err
	}
	return net.ListenMulticastUDP("udp4", nil, addr)
}

func receiveLoop(conn *net.UDPConn, runner *taskrunner.SerialRunner, querier *mdns.Querier) {
	buf := make([]byte, 9000)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			mdns.Log.WithError(err).Warn("mdnsdiscod: read failed")
			return
		}
		msg := new(dns.Msg)
		if err := msg.Unpack(buf[:n]); err != nil {
			continue
		}
		runner.PostTask(func() { querier.OnMessageReceived(msg) })
	}
}

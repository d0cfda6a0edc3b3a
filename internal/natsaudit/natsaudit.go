// Package natsaudit streams audit events to NATS so downstream systems
// (bed management, quality reporting) can follow triage decisions.
package natsaudit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/acuity/internal/triage"
)

// SubjectPrefix is prepended to the event kind to form the subject.
const SubjectPrefix = "acuity.audit."

// publisher is the subset of *nats.Conn used here.
type publisher interface {
	PublishMsg(m *nats.Msg) error
}

// Auditor publishes each event as JSON on acuity.audit.<kind>. The event id
// goes out as the Nats-Msg-Id header so JetStream can drop redeliveries.
type Auditor struct {
	pub        publisher
	department string
}

// New returns an Auditor publishing on conn.
func New(conn *nats.Conn, department string) *Auditor {
	return newAuditor(conn, department)
}

func newAuditor(pub publisher, department string) *Auditor {
	return &Auditor{pub: pub, department: department}
}

// Subject returns the subject for events of kind k.
func Subject(k triage.EventKind) string {
	return SubjectPrefix + string(k)
}

// Record implements triage.Auditor.
func (a *Auditor) Record(ctx context.Context, ev *triage.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event %s: %w", ev.ID, err)
	}

	msg := nats.NewMsg(Subject(ev.Kind))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, ev.ID)
	msg.Header.Set("Acuity-Patient-Id", ev.PatientID)
	if a.department != "" {
		msg.Header.Set("Acuity-Department", a.department)
	}

	if err := a.pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", msg.Subject, err)
	}
	return nil
}

// ConnectOptions configures Connect.
type ConnectOptions struct {
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
	Timeout       time.Duration
	Logger        log.Logger
}

// Connect dials url with reconnect handling that logs through opts.Logger.
func Connect(url string, opts ConnectOptions) (*nats.Conn, error) {
	if opts.Name == "" {
		opts.Name = "acuity"
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = -1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	ctx := context.Background()

	conn, err := nats.Connect(url,
		nats.Name(opts.Name),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.Timeout(opts.Timeout),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			L.Info(ctx, "nats reconnected", "url", nc.ConnectedUrlRedacted())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				L.Warn(ctx, "nats disconnected", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return conn, nil
}

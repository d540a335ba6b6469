// Package monitor watches a catchall mailbox over IMAP, classifies every
// unseen message and moves it to its verdict folder.
//
// The monitor never leaves a message behind: a message that cannot be
// classified still gets a verdict (failed) and still gets moved. Only a
// failed MOVE leaves it in place, unseen, to be retried on the next sweep.
package monitor

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	"github.com/emersion/go-sasl"

	"github.com/soteria-mail/soteria/alias"
	"github.com/soteria-mail/soteria/audit"
	"github.com/soteria-mail/soteria/classify"
	"github.com/soteria-mail/soteria/consts"
	"github.com/soteria-mail/soteria/headers"
	"github.com/soteria-mail/soteria/helpers"
	"github.com/soteria-mail/soteria/pkg/metrics"
)

// headerSection fetches only the message header, without touching the
// \Seen flag. Classification never needs the body.
var headerSection = &imap.FetchItemBodySection{
	Specifier: imap.PartSpecifierHeader,
	Peek:      true,
}

// Recorder receives every verdict for the audit trail. Implemented by
// *audit.Store; nil disables recording.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

// Options configures a Monitor.
type Options struct {
	Mailbox    string
	Username   string
	Password   string
	OwnDomains []string

	IdleTimeout    time.Duration
	ReconnectDelay time.Duration

	Codec    *alias.Codec
	Analyzer *headers.Analyzer
	Engine   *classify.Engine
	Recorder Recorder

	NewClient ClientFactory
}

// Monitor is the long-running mailbox watcher.
type Monitor struct {
	mailbox    string
	username   string
	password   string
	ownDomains []string

	idleTimeout    time.Duration
	reconnectDelay time.Duration

	codec    *alias.Codec
	analyzer *headers.Analyzer
	engine   *classify.Engine
	recorder Recorder

	newClient ClientFactory
	wake      chan struct{}
}

func New(opts Options) (*Monitor, error) {
	if opts.Codec == nil || opts.Analyzer == nil || opts.Engine == nil {
		return nil, fmt.Errorf("monitor: codec, analyzer and engine are required")
	}
	if len(opts.OwnDomains) == 0 {
		return nil, fmt.Errorf("monitor: at least one own domain is required")
	}

	m := &Monitor{
		mailbox:        opts.Mailbox,
		username:       opts.Username,
		password:       opts.Password,
		ownDomains:     opts.OwnDomains,
		idleTimeout:    opts.IdleTimeout,
		reconnectDelay: opts.ReconnectDelay,
		codec:          opts.Codec,
		analyzer:       opts.Analyzer,
		engine:         opts.Engine,
		recorder:       opts.Recorder,
		newClient:      opts.NewClient,
		wake:           make(chan struct{}, 1),
	}
	if m.mailbox == "" {
		m.mailbox = consts.DefaultMailbox
	}
	if m.idleTimeout <= 0 {
		m.idleTimeout = 2 * time.Minute
	}
	if m.reconnectDelay <= 0 {
		m.reconnectDelay = 15 * time.Second
	}
	return m, nil
}

// SetClientFactory installs the connection factory. Split from New so
// the factory's mailbox update callback can reference the monitor's own
// Wake method. Must be called before Run.
func (m *Monitor) SetClientFactory(factory ClientFactory) {
	m.newClient = factory
}

// Wake interrupts the current IDLE wait so the next sweep starts
// immediately. Safe to call from any goroutine; extra wakes coalesce.
func (m *Monitor) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run connects and processes messages until ctx is cancelled. Connection
// and session failures are retried after the reconnect delay.
func (m *Monitor) Run(ctx context.Context) error {
	if m.newClient == nil {
		return fmt.Errorf("monitor: client factory is required")
	}
	log.Printf("[MONITOR] Starting mailbox monitor, mailbox: %s, idle timeout: %v", m.mailbox, m.idleTimeout)

	for {
		err := m.session(ctx)
		if ctx.Err() != nil {
			log.Printf("[MONITOR] Shutting down")
			return nil
		}
		if err != nil {
			log.Printf("[MONITOR] Session ended: %v, reconnecting in %v", err, m.reconnectDelay)
		}
		metrics.IMAPReconnects.Inc()

		select {
		case <-ctx.Done():
			log.Printf("[MONITOR] Shutting down")
			return nil
		case <-time.After(m.reconnectDelay):
		}
	}
}

// session runs one connection lifecycle: connect, authenticate, select,
// then alternate sweeps and IDLE waits until an error or cancellation.
func (m *Monitor) session(ctx context.Context) error {
	client, err := m.newClient()
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()

	if err := m.authenticate(client); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	if _, err := client.Select(m.mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("failed to select mailbox %s: %w", m.mailbox, err)
	}
	log.Printf("[MONITOR] Connected, watching mailbox %s", m.mailbox)

	for {
		if err := m.sweep(ctx, client); err != nil {
			return err
		}

		idle, err := client.Idle()
		if err != nil {
			return fmt.Errorf("failed to start IDLE: %w", err)
		}

		select {
		case <-ctx.Done():
		case <-m.wake:
		case <-time.After(m.idleTimeout):
		}

		if err := idle.Close(); err != nil {
			return fmt.Errorf("failed to stop IDLE: %w", err)
		}
		if err := idle.Wait(); err != nil {
			return fmt.Errorf("IDLE failed: %w", err)
		}

		if ctx.Err() != nil {
			// Best effort; the deferred Close tears the connection down anyway.
			_ = client.Logout().Wait()
			return ctx.Err()
		}
	}
}

// authenticate prefers SASL PLAIN and falls back to LOGIN for servers
// that do not advertise AUTH=PLAIN.
func (m *Monitor) authenticate(client Client) error {
	if err := client.Authenticate(sasl.NewPlainClient("", m.username, m.password)); err == nil {
		return nil
	}
	return client.Login(m.username, m.password).Wait()
}

// sweep classifies and moves every unseen message in the mailbox.
func (m *Monitor) sweep(ctx context.Context, client Client) error {
	metrics.MonitorSweeps.Inc()

	criteria := &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}
	data, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return fmt.Errorf("failed to search for unseen messages: %w", err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil
	}
	log.Printf("[MONITOR] Found %d unseen message(s)", len(uids))

	fetchOptions := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{headerSection},
	}
	msgs, err := client.Fetch(imap.UIDSetNum(uids...), fetchOptions).Collect()
	if err != nil {
		return fmt.Errorf("failed to fetch message headers: %w", err)
	}

	for _, msg := range msgs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.process(ctx, client, msg)
	}
	return nil
}

// process classifies one message and moves it. Per-message failures are
// logged and counted but never abort the sweep; a message whose MOVE
// fails stays unseen and is retried on the next sweep.
func (m *Monitor) process(ctx context.Context, client Client, msg *imapclient.FetchMessageBuffer) {
	start := time.Now()

	verdict, aliasAddr, sender := m.classify(ctx, msg.FindBodySection(headerSection))

	if _, err := client.Move(imap.UIDSetNum(msg.UID), verdict.Folder).Wait(); err != nil {
		log.Printf("[MONITOR] Failed to move message UID %d to %s: %v", msg.UID, verdict.Folder, err)
		metrics.MessageProcessingErrors.WithLabelValues("move").Inc()
		return
	}

	metrics.MessagesClassified.WithLabelValues(verdict.Disposition.String()).Inc()
	metrics.AliasVerifications.WithLabelValues(verdict.Alias.Kind.String()).Inc()
	metrics.MessagesMoved.WithLabelValues(verdict.Folder).Inc()
	metrics.ClassificationDuration.Observe(time.Since(start).Seconds())

	log.Printf("[MONITOR] Classified message UID %d as %s (alias: %s, sender: %s), moved to %s",
		msg.UID, verdict.Disposition, aliasAddr, sender, verdict.Folder)

	if m.recorder != nil {
		if err := m.recorder.Record(ctx, audit.NewEntry(aliasAddr, sender, verdict)); err != nil {
			log.Printf("[MONITOR] WARNING: failed to record audit entry for UID %d: %v", msg.UID, err)
			metrics.AuditWrites.WithLabelValues("error").Inc()
		} else {
			metrics.AuditWrites.WithLabelValues("ok").Inc()
		}
	}
}

// classify produces the verdict for one raw header block. A missing or
// unparseable header yields a malformed alias result and a failed
// verdict; it never yields an error.
func (m *Monitor) classify(ctx context.Context, raw []byte) (classify.Verdict, string, string) {
	entity, err := message.Read(bytes.NewReader(raw))
	if len(raw) == 0 || (err != nil && entity == nil) {
		metrics.MessageProcessingErrors.WithLabelValues("parse").Inc()
		result := alias.Result{Kind: alias.Malformed, Reason: consts.ErrMalformedHeaders.Error()}
		return m.engine.Decide(result, headers.Signals{}, ""), "", ""
	}
	hdr := entity.Header

	sender := headers.SenderAddress(hdr)
	_, senderDomain := helpers.SplitEmailAddress(sender)

	var result alias.Result
	var aliasAddr string
	if local, domain, ok := headers.OwnRecipient(hdr, m.ownDomains); ok {
		result = m.codec.Verify(local)
		aliasAddr = local + "@" + domain
	} else {
		result = alias.Result{Kind: alias.Malformed, Reason: consts.ErrNoRecipientFound.Error()}
	}

	signals := m.analyzer.Analyze(ctx, hdr, senderDomain)
	return m.engine.Decide(result, signals, senderDomain), aliasAddr, sender
}

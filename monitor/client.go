package monitor

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/soteria-mail/soteria/config"
)

// Client is the narrow IMAP surface the monitor needs. It mirrors the
// imapclient command API so the real client satisfies it through a thin
// wrapper, while tests substitute a fake.
type Client interface {
	Authenticate(mech sasl.Client) error
	Login(username, password string) cmdWaiter
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Move(numSet imap.NumSet, mailbox string) moveWaiter
	Idle() (idleWaiter, error)
	Logout() cmdWaiter
	Close() error
}

type cmdWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
}
type moveWaiter interface {
	Wait() (*imapclient.MoveData, error)
}
type idleWaiter interface {
	Close() error
	Wait() error
}

// ClientFactory opens a fresh IMAP connection.
type ClientFactory func() (Client, error)

// NewClientFactory builds the production factory for the configured
// server. onMailboxUpdate, when non-nil, is invoked whenever the server
// pushes a mailbox status update (new mail during IDLE).
func NewClientFactory(cfg config.IMAPConfig, dialTimeout time.Duration, onMailboxUpdate func()) ClientFactory {
	return func() (Client, error) {
		opts := &imapclient.Options{
			Dialer: &net.Dialer{Timeout: dialTimeout},
		}
		if onMailboxUpdate != nil {
			opts.UnilateralDataHandler = &imapclient.UnilateralDataHandler{
				Mailbox: func(data *imapclient.UnilateralDataMailbox) {
					if data.NumMessages != nil {
						onMailboxUpdate()
					}
				},
			}
		}

		addr := cfg.Address()
		if cfg.TLS {
			opts.TLSConfig = &tls.Config{
				ServerName:         cfg.Host,
				InsecureSkipVerify: !cfg.TLSVerify,
			}
			c, err := imapclient.DialTLS(addr, opts)
			if err != nil {
				return nil, err
			}
			return &clientWrapper{Client: c}, nil
		}

		c, err := imapclient.DialInsecure(addr, opts)
		if err != nil {
			return nil, err
		}
		return &clientWrapper{Client: c}, nil
	}
}

// clientWrapper adapts *imapclient.Client to the Client interface.
type clientWrapper struct{ *imapclient.Client }

func (w *clientWrapper) Authenticate(mech sasl.Client) error {
	return w.Client.Authenticate(mech)
}
func (w *clientWrapper) Login(username, password string) cmdWaiter {
	return w.Client.Login(username, password)
}
func (w *clientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *clientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *clientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *clientWrapper) Move(numSet imap.NumSet, mailbox string) moveWaiter {
	return w.Client.Move(numSet, mailbox)
}
func (w *clientWrapper) Idle() (idleWaiter, error) {
	return w.Client.Idle()
}
func (w *clientWrapper) Logout() cmdWaiter {
	return w.Client.Logout()
}

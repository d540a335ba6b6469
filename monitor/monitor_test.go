package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soteria-mail/soteria/alias"
	"github.com/soteria-mail/soteria/audit"
	"github.com/soteria-mail/soteria/classify"
	"github.com/soteria-mail/soteria/headers"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type stubResolver struct{}

func (stubResolver) DomainHasMX(context.Context, string) (bool, error) { return true, nil }

type captureRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (r *captureRecorder) Record(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *captureRecorder) list() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

// fakeClient implements Client against an in-memory mailbox keyed by UID.
type fakeClient struct {
	mu       sync.Mutex
	mailbox  map[imap.UID][]byte
	moved    map[imap.UID]string
	moveErr  map[imap.UID]error
	authErr  error
	loggedIn bool
	searches int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		mailbox: make(map[imap.UID][]byte),
		moved:   make(map[imap.UID]string),
		moveErr: make(map[imap.UID]error),
	}
}

func (c *fakeClient) add(uid imap.UID, header string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mailbox[uid] = []byte(header)
}

func (c *fakeClient) searchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searches
}

func (c *fakeClient) movedTo(uid imap.UID) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moved[uid]
}

type fakeCmd struct{ err error }

func (w fakeCmd) Wait() error { return w.err }

type fakeSelect struct{}

func (fakeSelect) Wait() (*imap.SelectData, error) { return &imap.SelectData{}, nil }

type fakeSearch struct{ data *imap.SearchData }

func (w fakeSearch) Wait() (*imap.SearchData, error) { return w.data, nil }

type fakeFetch struct{ msgs []*imapclient.FetchMessageBuffer }

func (w fakeFetch) Collect() ([]*imapclient.FetchMessageBuffer, error) { return w.msgs, nil }

type fakeMove struct{ err error }

func (w fakeMove) Wait() (*imapclient.MoveData, error) {
	if w.err != nil {
		return nil, w.err
	}
	return &imapclient.MoveData{}, nil
}

type fakeIdle struct{}

func (fakeIdle) Close() error { return nil }
func (fakeIdle) Wait() error  { return nil }

func (c *fakeClient) Authenticate(sasl.Client) error { return c.authErr }

func (c *fakeClient) Login(string, string) cmdWaiter {
	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
	return fakeCmd{}
}

func (c *fakeClient) Select(string, *imap.SelectOptions) selectWaiter { return fakeSelect{} }

func (c *fakeClient) UIDSearch(*imap.SearchCriteria, *imap.SearchOptions) searchWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searches++
	uids := make([]imap.UID, 0, len(c.mailbox))
	for uid := range c.mailbox {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return fakeSearch{data: &imap.SearchData{All: imap.UIDSetNum(uids...)}}
}

func (c *fakeClient) Fetch(numSet imap.NumSet, _ *imap.FetchOptions) fetchWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	var msgs []*imapclient.FetchMessageBuffer
	for _, r := range numSet.(imap.UIDSet) {
		for uid := r.Start; uid <= r.Stop; uid++ {
			raw, ok := c.mailbox[uid]
			if !ok {
				continue
			}
			msgs = append(msgs, &imapclient.FetchMessageBuffer{
				UID: uid,
				BodySection: []imapclient.FetchBodySectionBuffer{
					{Section: headerSection, Bytes: raw},
				},
			})
		}
	}
	return fakeFetch{msgs: msgs}
}

func (c *fakeClient) Move(numSet imap.NumSet, mailbox string) moveWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	uid := numSet.(imap.UIDSet)[0].Start
	if err := c.moveErr[uid]; err != nil {
		return fakeMove{err: err}
	}
	c.moved[uid] = mailbox
	delete(c.mailbox, uid)
	return fakeMove{}
}

func (c *fakeClient) Idle() (idleWaiter, error) { return fakeIdle{}, nil }
func (c *fakeClient) Logout() cmdWaiter         { return fakeCmd{} }
func (c *fakeClient) Close() error              { return nil }

func newTestMonitor(t *testing.T, client Client, recorder Recorder) (*Monitor, *alias.Codec) {
	t.Helper()
	codec, err := alias.NewCodec(testSecret)
	require.NoError(t, err)

	m, err := New(Options{
		Mailbox:    "INBOX",
		Username:   "catchall@own.example",
		Password:   "secret",
		OwnDomains: []string{"own.example"},
		Codec:      codec,
		Analyzer:   headers.NewAnalyzer(stubResolver{}, time.Second),
		Engine: classify.NewEngine(classify.Routing{
			VerifiedFolder: "Verified",
			FailedFolder:   "Failed Validation",
		}),
		Recorder:  recorder,
		NewClient: func() (Client, error) { return client, nil },
	})
	require.NoError(t, err)
	return m, codec
}

func messageHeader(from, to string) string {
	return fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: test\r\n\r\n", from, to)
}

func TestSweep_ClassifiesAndMoves(t *testing.T) {
	client := newFakeClient()
	recorder := &captureRecorder{}
	m, codec := newTestMonitor(t, client, recorder)

	authentic, err := codec.Generate("github.com")
	require.NoError(t, err)

	client.add(1, messageHeader("noreply@github.com", authentic+"@own.example"))
	client.add(2, messageHeader("spammer@junk.example", "madeup@own.example"))

	require.NoError(t, m.sweep(context.Background(), client))

	assert.Equal(t, "Verified", client.movedTo(1))
	assert.Equal(t, "Failed Validation", client.movedTo(2))

	entries := recorder.list()
	require.Len(t, entries, 2)
	assert.Equal(t, "verified", entries[0].Disposition)
	assert.Equal(t, authentic+"@own.example", entries[0].Alias)
	assert.Equal(t, "noreply@github.com", entries[0].Sender)
	assert.Equal(t, "failed", entries[1].Disposition)
	assert.Equal(t, "malformed", entries[1].AliasResult)
}

func TestSweep_BindingMismatchFails(t *testing.T) {
	client := newFakeClient()
	m, codec := newTestMonitor(t, client, nil)

	// Minted for github.com but arriving from elsewhere.
	localPart, err := codec.Generate("github.com")
	require.NoError(t, err)
	client.add(7, messageHeader("noreply@gitlab.com", localPart+"@own.example"))

	require.NoError(t, m.sweep(context.Background(), client))
	assert.Equal(t, "Failed Validation", client.movedTo(7))
}

func TestSweep_MoveFailureLeavesMessageForRetry(t *testing.T) {
	client := newFakeClient()
	recorder := &captureRecorder{}
	m, _ := newTestMonitor(t, client, recorder)

	client.add(3, messageHeader("someone@other.example", "whatever@own.example"))
	client.moveErr[3] = errors.New("MOVE failed")

	require.NoError(t, m.sweep(context.Background(), client))

	assert.Empty(t, client.movedTo(3))
	client.mu.Lock()
	_, still := client.mailbox[3]
	client.mu.Unlock()
	assert.True(t, still, "message should remain in mailbox after failed move")
	assert.Empty(t, recorder.list(), "no audit entry for a message that was not moved")
}

func TestSweep_EmptyMailboxIsNoop(t *testing.T) {
	client := newFakeClient()
	m, _ := newTestMonitor(t, client, nil)

	require.NoError(t, m.sweep(context.Background(), client))
	assert.Empty(t, client.moved)
}

func TestClassify_UnparseableHeadersFail(t *testing.T) {
	m, _ := newTestMonitor(t, newFakeClient(), nil)

	verdict, aliasAddr, sender := m.classify(context.Background(), nil)
	assert.Equal(t, classify.Failed, verdict.Disposition)
	assert.Equal(t, "Failed Validation", verdict.Folder)
	assert.Equal(t, alias.Malformed, verdict.Alias.Kind)
	assert.Empty(t, aliasAddr)
	assert.Empty(t, sender)
}

func TestClassify_NoOwnRecipientFails(t *testing.T) {
	m, _ := newTestMonitor(t, newFakeClient(), nil)

	raw := []byte(messageHeader("a@b.example", "someone@elsewhere.example"))
	verdict, aliasAddr, sender := m.classify(context.Background(), raw)
	assert.Equal(t, classify.Failed, verdict.Disposition)
	assert.Equal(t, alias.Malformed, verdict.Alias.Kind)
	assert.Empty(t, aliasAddr)
	assert.Equal(t, "a@b.example", sender)
}

func TestClassify_EndToEndDispositions(t *testing.T) {
	m, codec := newTestMonitor(t, newFakeClient(), nil)

	bound, err := codec.Generate("example.com")
	require.NoError(t, err)

	allFailHeaders := "Authentication-Results: mx.example.net;\r\n" +
		" spf=fail smtp.mailfrom=example.com;\r\n" +
		" dkim=fail header.d=example.com;\r\n" +
		" dmarc=fail header.from=example.com\r\n"

	tests := []struct {
		name   string
		raw    string
		want   classify.Disposition
		folder string
	}{
		{
			"authentic alias, matching sender",
			messageHeader("billing@example.com", bound+"@own.example"),
			classify.Verified, "Verified",
		},
		{
			"authentic alias, mismatched sender",
			messageHeader("billing@other.com", bound+"@own.example"),
			classify.Failed, "Failed Validation",
		},
		{
			"guessed local part",
			messageHeader("billing@example.com", "guessed-12345@own.example"),
			classify.Failed, "Failed Validation",
		},
		{
			// Header signals are advisory; they never demote an
			// authentic, binding-matched alias.
			"authentic alias despite failing auth headers",
			allFailHeaders + messageHeader("billing@example.com", bound+"@own.example"),
			classify.Verified, "Verified",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			verdict, _, _ := m.classify(context.Background(), []byte(tc.raw))
			assert.Equal(t, tc.want, verdict.Disposition)
			assert.Equal(t, tc.folder, verdict.Folder)
		})
	}
}

func TestAuthenticate_FallsBackToLogin(t *testing.T) {
	client := newFakeClient()
	client.authErr = errors.New("AUTH=PLAIN not supported")
	m, _ := newTestMonitor(t, client, nil)

	require.NoError(t, m.authenticate(client))
	assert.True(t, client.loggedIn)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	client := newFakeClient()
	m, _ := newTestMonitor(t, client, nil)
	m.idleTimeout = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return client.searchCount() >= 1 },
		2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestWake_TriggersImmediateSweep(t *testing.T) {
	client := newFakeClient()
	m, _ := newTestMonitor(t, client, nil)
	m.idleTimeout = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return client.searchCount() >= 1 },
		2*time.Second, 5*time.Millisecond)

	client.add(9, messageHeader("x@y.example", "junk@own.example"))
	m.Wake()

	require.Eventually(t, func() bool { return client.movedTo(9) != "" },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Failed Validation", client.movedTo(9))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

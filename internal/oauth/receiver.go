// Package oauth completes the DeviantArt authorization code flow through a
// loopback redirect listener polled from the application tick.
package oauth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"vawter.tech/stopper"
)

const (
	// AuthURL is the DeviantArt authorization endpoint
	AuthURL = "https://www.deviantart.com/oauth2/authorize"
	// TokenURL is the DeviantArt token endpoint
	TokenURL = "https://www.deviantart.com/oauth2/token"
	// RedirectURL is registered with DeviantArt as the redirect target
	RedirectURL = "http://localhost:11211"
	// DefaultRedirectAddr is where the redirect is received
	DefaultRedirectAddr = "127.0.0.1:11211"
	// CredentialsFile holds "client_id\nclient_secret" next to the executable
	CredentialsFile = "deviantart.txt"
	// Scope is the only scope requested
	Scope = "browse"

	closeTabBody    = "<script>close()</script>"
	maxRequestLine  = 8 << 10
	requestDeadline = 5 * time.Second
)

var (
	// ErrInProgress indicates Begin was called while a flow is active
	ErrInProgress = errors.New("oauth: authorization already in progress")
	// ErrStateMismatch indicates the redirect carried a state this receiver did not issue
	ErrStateMismatch = errors.New("oauth: state mismatch")
	// ErrDenied indicates the provider redirected with an error
	ErrDenied = errors.New("oauth: authorization denied")
	// ErrMalformedCredentials indicates the credentials file is not two lines
	ErrMalformedCredentials = errors.New("oauth: malformed credentials file")
)

// Credentials identify the application to DeviantArt
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// LoadCredentials reads a credentials file of the form "client_id\nclient_secret"
func LoadCredentials(path string) (Credentials, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, err
	}
	id, secret, ok := strings.Cut(string(raw), "\n")
	id, secret = strings.TrimSpace(id), strings.TrimSpace(secret)
	if !ok || id == "" || secret == "" {
		return Credentials{}, fmt.Errorf("%w: %s", ErrMalformedCredentials, path)
	}
	return Credentials{ClientID: id, ClientSecret: secret}, nil
}

// NewConfig builds the oauth2 configuration for c
func NewConfig(c Credentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  AuthURL,
			TokenURL: TokenURL,
		},
		RedirectURL: RedirectURL,
		Scopes:      []string{Scope},
	}
}

// Result is the outcome of one authorization flow
type Result struct {
	Token *oauth2.Token
	Err   error
}

// Receiver owns the redirect port for the duration of one flow
type Receiver struct {
	config *oauth2.Config
	addr   string
	logger *slog.Logger

	mu      sync.Mutex
	sctx    *stopper.Context
	ln      net.Listener
	state   string
	results chan Result
}

// NewReceiver creates a Receiver listening on addr once Begin is called
func NewReceiver(config *oauth2.Config, addr string, logger *slog.Logger) *Receiver {
	if addr == "" {
		addr = DefaultRedirectAddr
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		config:  config,
		addr:    addr,
		logger:  logger,
		results: make(chan Result, 1),
	}
}

// Begin binds the redirect port and returns the URL the user must open
func (r *Receiver) Begin(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sctx != nil {
		return "", ErrInProgress
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", r.addr)
	if err != nil {
		return "", fmt.Errorf("binding redirect listener: %w", err)
	}

	r.ln = ln
	r.state = uuid.NewString()
	r.sctx = stopper.WithContext(context.WithoutCancel(ctx))

	r.sctx.Go(func(sctx *stopper.Context) error {
		<-sctx.Stopping()
		_ = ln.Close()
		return nil
	})

	state := r.state
	r.sctx.Go(func(sctx *stopper.Context) error {
		return r.accept(ctx, sctx, ln, state)
	})

	r.logger.InfoContext(ctx, "waiting for authorization redirect", slog.String("addr", ln.Addr().String()))
	return r.config.AuthCodeURL(state), nil
}

// Addr returns the bound redirect address, or nil before Begin
func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

// Active reports whether a flow is waiting for its redirect
func (r *Receiver) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sctx != nil
}

func (r *Receiver) accept(ctx context.Context, sctx *stopper.Context, ln net.Listener, state string) error {
	for !sctx.IsStopping() {
		conn, err := ln.Accept()
		if err != nil {
			if sctx.IsStopping() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}

		query, err := readRedirect(conn)
		if err != nil {
			r.logger.Debug("ignoring redirect request", slog.Any("err", err))
			continue
		}

		// Browsers also ask for /favicon.ico and the like.
		if !query.Has("code") && !query.Has("error") {
			continue
		}

		res := r.complete(ctx, query, state)
		select {
		case r.results <- res:
		case <-sctx.Stopping():
		}
		return nil
	}
	return nil
}

// readRedirect reads one request line, answers with a page that closes the
// tab and returns the query parameters of the request target.
func readRedirect(conn net.Conn) (url.Values, error) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(requestDeadline))

	line, err := bufio.NewReader(io.LimitReader(conn, maxRequestLine)).ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading request line: %w", err)
	}

	_, _ = fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\ncontent-type: text/html\r\ncontent-length: %d\r\nconnection: close\r\n\r\n%s",
		len(closeTabBody), closeTabBody)

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, fmt.Errorf("malformed request line %q", line)
	}
	target, err := url.ParseRequestURI(fields[1])
	if err != nil {
		return nil, err
	}
	return target.Query(), nil
}

func (r *Receiver) complete(ctx context.Context, query url.Values, state string) Result {
	if e := query.Get("error"); e != "" {
		return Result{Err: fmt.Errorf("%w: %s", ErrDenied, e)}
	}
	if query.Get("state") != state {
		return Result{Err: ErrStateMismatch}
	}

	tok, err := r.config.Exchange(ctx, query.Get("code"))
	if err != nil {
		return Result{Err: fmt.Errorf("exchanging code: %w", err)}
	}
	r.logger.InfoContext(ctx, "authorization complete", slog.Time("expiry", tok.Expiry))
	return Result{Token: tok}
}

// Poll returns the flow's result once it is available and releases the
// port. It never blocks.
func (r *Receiver) Poll() (Result, bool) {
	select {
	case res := <-r.results:
		_ = r.Close()
		return res, true
	default:
		return Result{}, false
	}
}

// Close abandons any active flow and releases the port
func (r *Receiver) Close() error {
	r.mu.Lock()
	sctx := r.sctx
	r.sctx = nil
	r.ln = nil
	r.mu.Unlock()

	if sctx == nil {
		return nil
	}
	sctx.Stop(100 * time.Millisecond)
	return sctx.Wait()
}

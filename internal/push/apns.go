package push

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http2"

	"github.com/tbourn/go-call-relay/internal/domain"
)

// APN hosts.
const (
	APNProductionHost = "https://api.push.apple.com"
	APNSandboxHost    = "https://api.sandbox.push.apple.com"
)

// Provider tokens are valid for an hour; refresh a little earlier.
const apnTokenTTL = 50 * time.Minute

// APNConfig configures an APNClient.
type APNConfig struct {
	// Topic is the VoIP topic, normally "<bundle id>.voip".
	Topic string
	// Host overrides the production/sandbox host. Empty selects by Production.
	Host       string
	Production bool

	// CertPath is a PEM file holding both the client certificate and its key.
	CertPath string

	// AuthKeyPath, KeyID and TeamID select token-based auth and take
	// precedence over CertPath.
	AuthKeyPath string
	KeyID       string
	TeamID      string

	Timeout time.Duration
	// RootCAs overrides the system pool.
	RootCAs *x509.CertPool
}

// APNClient sends VoIP pushes over HTTP/2. The credential is loaded once by
// NewAPNClient and held for the lifetime of the client.
type APNClient struct {
	host    string
	topic   string
	timeout time.Duration
	http    *http.Client
	tokens  *tokenProvider // nil in certificate mode
}

// NewAPNClient loads the configured credential and builds the HTTP/2
// transport.
func NewAPNClient(cfg APNConfig) (*APNClient, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, RootCAs: cfg.RootCAs}

	c := &APNClient{
		host:    cfg.Host,
		topic:   cfg.Topic,
		timeout: cfg.Timeout,
	}
	if c.host == "" {
		c.host = APNSandboxHost
		if cfg.Production {
			c.host = APNProductionHost
		}
	}
	c.host = strings.TrimRight(c.host, "/")
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}

	switch {
	case cfg.AuthKeyPath != "":
		key, err := loadSigningKey(cfg.AuthKeyPath)
		if err != nil {
			return nil, err
		}
		if cfg.KeyID == "" || cfg.TeamID == "" {
			return nil, errors.New("apn: token auth needs key id and team id")
		}
		c.tokens = newTokenProvider(key, cfg.KeyID, cfg.TeamID)
	case cfg.CertPath != "":
		cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.CertPath)
		if err != nil {
			return nil, fmt.Errorf("apn: load certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	default:
		return nil, errors.New("apn: no credential configured")
	}

	c.http = &http.Client{Transport: &http2.Transport{TLSClientConfig: tlsCfg}}
	return c, nil
}

type apnAlert struct {
	APS        struct{} `json:"aps"`
	UUID       string   `json:"uuid"`
	CallerName string   `json:"callerName"`
	Handle     string   `json:"handle"`
}

type apnResponse struct {
	Reason string `json:"reason"`
}

// apnDelivery is the per-device record a send produces.
type apnDelivery struct {
	Sent   []apnDevice `json:"sent"`
	Failed []apnDevice `json:"failed"`
}

type apnDevice struct {
	Device   string       `json:"device"`
	Status   int          `json:"status,omitempty"`
	Response *apnResponse `json:"response,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// delivered applies the vendor-library contract: success iff the encoded
// sent list is longer than 4 bytes, so both "[]" and "null" count as nothing
// sent.
func (d apnDelivery) delivered() bool {
	b, err := json.Marshal(d.Sent)
	return err == nil && len(b) > 4
}

func (d apnDelivery) String() string {
	b, _ := json.Marshal(d)
	return string(b)
}

// SendVoIP rings the iOS device identified by token.
func (c *APNClient) SendVoIP(ctx context.Context, token string, ev domain.CallEvent) Result {
	mustToken("apn", token)

	ctx, span := otel.Tracer("push/APNClient").Start(ctx, "SendVoIP",
		trace.WithAttributes(attribute.String("call.id", ev.ID)),
	)
	start := time.Now()
	defer observe(string(domain.TransportAPNVoIP), start)

	rec := c.send(ctx, token, ev)
	res := Result{Delivered: rec.delivered(), Detail: rec.String()}
	endSpan(span, res)

	le := log.Info()
	if !res.Delivered {
		le = log.Warn()
	}
	le.Str("call_id", ev.ID).
		Str("channel", string(domain.TransportAPNVoIP)).
		Bool("delivered", res.Delivered).
		Dur("latency", time.Since(start)).
		Msg("apn voip push")
	return res
}

// DetailAPNUnconfigured is the Result detail reported by DisabledAPN.
const DetailAPNUnconfigured = "apn: no credential configured"

// DisabledAPN stands in for APNClient when no APN credential is configured.
// Every VoIP push is reported as undelivered.
type DisabledAPN struct{}

// SendVoIP reports the push as undelivered without contacting APN.
func (DisabledAPN) SendVoIP(_ context.Context, token string, ev domain.CallEvent) Result {
	mustToken("apn", token)
	log.Warn().
		Str("call_id", ev.ID).
		Str("channel", string(domain.TransportAPNVoIP)).
		Msg("apn voip push skipped: no credential configured")
	return Result{Detail: DetailAPNUnconfigured}
}

func (c *APNClient) send(ctx context.Context, token string, ev domain.CallEvent) apnDelivery {
	fail := func(d apnDevice) apnDelivery {
		d.Device = token
		return apnDelivery{Sent: []apnDevice{}, Failed: []apnDevice{d}}
	}

	body, err := json.Marshal(apnAlert{UUID: ev.ID, CallerName: ev.Caller, Handle: ev.Caller})
	if err != nil {
		return fail(apnDevice{Error: err.Error()})
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/3/device/"+token, bytes.NewReader(body))
	if err != nil {
		return fail(apnDevice{Error: err.Error()})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apns-topic", c.topic)
	req.Header.Set("apns-push-type", "voip")
	req.Header.Set("apns-priority", "10")
	req.Header.Set("apns-expiration", "0")
	if _, err := uuid.Parse(ev.ID); err == nil {
		req.Header.Set("apns-id", ev.ID)
	}
	if c.tokens != nil {
		jwtToken, err := c.tokens.Token()
		if err != nil {
			return fail(apnDevice{Error: err.Error()})
		}
		req.Header.Set("Authorization", "bearer "+jwtToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fail(apnDevice{Error: err.Error()})
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return apnDelivery{Sent: []apnDevice{{Device: token}}, Failed: []apnDevice{}}
	}

	var reason apnResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &reason); err != nil {
		reason.Reason = strings.TrimSpace(string(raw))
	}
	if c.tokens != nil && (reason.Reason == "ExpiredProviderToken" || reason.Reason == "InvalidProviderToken") {
		c.tokens.Invalidate()
	}
	return fail(apnDevice{Status: resp.StatusCode, Response: &reason})
}

func loadSigningKey(path string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("apn: read auth key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("apn: parse auth key: %w", err)
	}
	return key, nil
}

// tokenProvider signs and caches APN provider tokens.
type tokenProvider struct {
	key    *ecdsa.PrivateKey
	keyID  string
	teamID string
	now    func() time.Time

	mu     sync.Mutex
	token  string
	issued time.Time
}

func newTokenProvider(key *ecdsa.PrivateKey, keyID, teamID string) *tokenProvider {
	return &tokenProvider{key: key, keyID: keyID, teamID: teamID, now: time.Now}
}

// Token returns the cached token, signing a fresh one when it is missing or
// older than apnTokenTTL.
func (p *tokenProvider) Token() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.token != "" && now.Sub(p.issued) < apnTokenTTL {
		return p.token, nil
	}

	t := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": p.teamID,
		"iat": now.Unix(),
	})
	t.Header["kid"] = p.keyID
	signed, err := t.SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("apn: sign provider token: %w", err)
	}
	p.token, p.issued = signed, now
	return signed, nil
}

// Invalidate drops the cached token so the next send signs a new one.
func (p *tokenProvider) Invalidate() {
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
}

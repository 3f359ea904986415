package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"
)

const txResponseTimeout = 32 * time.Second

// Config bounds the Adapter's listening address and the local media
// endpoint advertised in SDP answers.
type Config struct {
	ListenAddr  string // e.g. "0.0.0.0:5060"
	Transport   string // "udp" or "tcp"
	UserAgent   string
	PublicRTPIP string
	// MediaStart is invoked once an INVITE is accepted, with the
	// remote RTP endpoint and negotiated codec/DTMF-event payload type
	// parsed from the offer, so the media pipeline can start its RTP
	// session before the 200 OK is sent. It returns the local RTP port
	// to advertise in the SDP answer.
	MediaStart func(callID, remoteHost string, remotePort int, codecName, dtmfPT string) (localPort int, err error)
}

// Adapter is a thin SIP UAS/UAC built on sipgo: it turns INVITE/ACK/BYE/
// CANCEL/INFO/MESSAGE into Router/Handlers calls, and turns outbound
// commands (hangup, transfer, DTMF, SMS) into SIP requests. Transaction
// and retransmission mechanics stay inside sipgo.
type Adapter struct {
	cfg      Config
	router   Router
	handlers Handlers
	logger   *slog.Logger

	ua     *sipgo.UserAgent
	server *sipgo.Server
	client *sipgo.Client
	cancel context.CancelFunc

	mu       sync.Mutex
	dialogs  map[string]*dialog        // callID -> dialog, for answered calls
	held     map[string]sip.ServerTransaction // queueCallID -> held INVITE transaction
	heldInfo map[string]CallInfo
}

// NewAdapter builds an Adapter. Call Start to begin listening.
func NewAdapter(cfg Config, router Router, handlers Handlers, logger *slog.Logger) *Adapter {
	if cfg.Transport == "" {
		cfg.Transport = "udp"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "voicebridge"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg: cfg, router: router, handlers: handlers, logger: logger.With("component", "signaling"),
		dialogs:  make(map[string]*dialog),
		held:     make(map[string]sip.ServerTransaction),
		heldInfo: make(map[string]CallInfo),
	}
}

// Start creates the sipgo UA/server/client, registers handlers, and
// begins listening. It returns once the listener goroutine is launched.
func (a *Adapter) Start(ctx context.Context) error {
	ua, err := sipgo.NewUA(sipgo.WithUserAgent(a.cfg.UserAgent))
	if err != nil {
		return fmt.Errorf("signaling: create user agent: %w", err)
	}
	a.ua = ua

	server, err := sipgo.NewServer(ua, sipgo.WithServerLogger(a.logger))
	if err != nil {
		return fmt.Errorf("signaling: create server: %w", err)
	}
	a.server = server

	client, err := sipgo.NewClient(ua)
	if err != nil {
		return fmt.Errorf("signaling: create client: %w", err)
	}
	a.client = client

	a.registerHandlers()

	ctx, a.cancel = context.WithCancel(ctx)
	go func() {
		if err := a.server.ListenAndServe(ctx, a.cfg.Transport, a.cfg.ListenAddr); err != nil {
			a.logger.Error("sip listener stopped", "error", errors.Wrap(err, "sip listen and serve"))
		}
	}()
	return nil
}

// Stop cancels the listener and closes the sipgo transports.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.server != nil {
		a.server.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
	if a.ua != nil {
		a.ua.Close()
	}
}

func (a *Adapter) registerHandlers() {
	a.server.OnInvite(a.handleInvite)
	a.server.OnAck(a.handleAck)
	a.server.OnBye(a.handleBye)
	a.server.OnCancel(a.handleCancel)
	a.server.OnInfo(a.handleInfo)
	a.server.OnMessage(a.handleMessage)
}

func callIDOf(req *sip.Request) string {
	if cid := req.CallID(); cid != nil {
		return cid.Value()
	}
	return ""
}

// handleInvite parses the SDP offer, asks the Router for an admission
// decision, and responds per the decision's action.
func (a *Adapter) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)
	from := req.From().Address.User
	to := req.To().Address.User
	headers := map[string]string{}
	for _, h := range req.Headers() {
		headers[h.Name()] = h.Value()
	}

	offer, err := parseOffer(req.Body())
	if err != nil {
		a.logger.Warn("invite rejected: bad sdp offer", "call_id", callID, "error", errors.Wrap(err, "parse sdp offer"))
		a.respondFinal(tx, req, 488, "Not Acceptable Here")
		return
	}

	_ = tx.Respond(sip.NewResponseFromRequest(req, 180, "Ringing", nil))

	decision, session := a.router.HandleIncomingCall(from, to, headers, offer.Codec)
	switch decision.Action {
	case "reject":
		a.respondFinal(tx, req, 603, "Decline")
	case "forward":
		res := sip.NewResponseFromRequest(req, 302, "Moved Temporarily", nil)
		res.AppendHeader(sip.NewHeader("Contact", "<"+decision.ForwardTarget+">"))
		_ = tx.Respond(res)
	case "queue":
		a.mu.Lock()
		a.held[decision.QueueCallID] = tx
		a.heldInfo[decision.QueueCallID] = CallInfo{
			FromNumber: from, ToNumber: to, SIPHeaders: headers,
			Codec: offer.Codec, RemoteRTPHost: offer.RemoteHost, RemoteRTPPort: offer.RemotePort,
		}
		a.mu.Unlock()
		_ = tx.Respond(sip.NewResponseFromRequest(req, 182, "Queued", nil))
	default: // accept
		a.answer(req, tx, callID, session.ID, offer)
	}
}

// answer completes an accepted INVITE with a 200 OK carrying an SDP
// answer, and stashes a dialog for later in-dialog requests.
func (a *Adapter) answer(req *sip.Request, tx sip.ServerTransaction, callID, sessionID string, offer offerInfo) {
	localPort := offer.RemotePort
	if a.cfg.MediaStart != nil {
		if p, err := a.cfg.MediaStart(sessionID, offer.RemoteHost, offer.RemotePort, offer.Codec, offer.TelephoneEvPT); err == nil {
			localPort = p
		}
	}
	localHost := a.cfg.PublicRTPIP
	if localHost == "" {
		localHost, _, _ = net.SplitHostPort(a.cfg.ListenAddr)
	}

	answerBody, err := buildAnswer(localHost, localPort, offer.Codec, offer.TelephoneEvPT)
	if err != nil {
		a.logger.Error("failed to build sdp answer", "call_id", callID, "error", errors.Wrap(err, "build sdp answer"))
		a.respondFinal(tx, req, 500, "Server Internal Error")
		return
	}

	res := sip.NewResponseFromRequest(req, 200, "OK", answerBody)
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	contact := sip.ContactHeader{Address: sip.Uri{Scheme: "sip", User: "voicebridge", Host: localHost}}
	res.AppendHeader(&contact)

	if err := tx.Respond(res); err != nil {
		a.logger.Error("failed to respond to invite", "call_id", callID, "error", errors.Wrap(err, "respond to invite"))
		return
	}

	d := newDialog(callID, req)
	d.confirm(res)
	a.mu.Lock()
	a.dialogs[sessionID] = d
	a.mu.Unlock()
}

// AdmitHeld promotes a queued call identified by queueCallID, completing
// its held INVITE transaction with a 200 OK/SDP answer.
func (a *Adapter) AdmitHeld(queueCallID string) error {
	a.mu.Lock()
	tx, ok := a.held[queueCallID]
	info, infoOK := a.heldInfo[queueCallID]
	if ok {
		delete(a.held, queueCallID)
		delete(a.heldInfo, queueCallID)
	}
	a.mu.Unlock()
	if !ok || !infoOK {
		return fmt.Errorf("signaling: no held invite for queue call %s", queueCallID)
	}

	session := a.router.AdmitQueuedCall(queueCallID, info.FromNumber, info.ToNumber, info.SIPHeaders, info.Codec)
	a.answer(tx.Request(), tx, callIDOf(tx.Request()), session.ID, offerInfo{
		Codec: info.Codec, RemoteHost: info.RemoteRTPHost, RemotePort: info.RemoteRTPPort,
	})
	return nil
}

func (a *Adapter) handleAck(req *sip.Request, _ sip.ServerTransaction) {
	callID := callIDOf(req)
	a.mu.Lock()
	_, tracked := a.dialogs[callID]
	a.mu.Unlock()
	if !tracked {
		a.logger.Debug("ack for untracked dialog", "call_id", callID)
	}
	if a.handlers.OnCallAnswer != nil {
		a.handlers.OnCallAnswer(callID)
	}
}

func (a *Adapter) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)
	_ = tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))

	a.mu.Lock()
	delete(a.dialogs, callID)
	a.mu.Unlock()

	if a.handlers.OnCallEnd != nil {
		a.handlers.OnCallEnd(callID, "remote_bye")
	}
}

func (a *Adapter) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)
	_ = tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))
	if a.handlers.OnCallEnd != nil {
		a.handlers.OnCallEnd(callID, "caller_cancel")
	}
}

// handleInfo handles SIP INFO carrying DTMF as an application/dtmf or
// application/dtmf-relay body.
func (a *Adapter) handleInfo(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)
	ct := req.ContentType()
	if ct != nil {
		if digit, ok := parseDTMFInfoBody(ct.Value(), req.Body()); ok && a.handlers.OnDTMFInfo != nil {
			a.handlers.OnDTMFInfo(callID, digit)
		}
	}
	_ = tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))
}

func (a *Adapter) handleMessage(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)
	_ = tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))

	if a.handlers.OnSMSMessage == nil {
		return
	}
	headers := map[string]string{}
	for _, h := range req.Headers() {
		headers[h.Name()] = h.Value()
	}
	fromURI := req.From().Address.String()
	toURI := req.To().Address.String()
	a.handlers.OnSMSMessage(fromURI, toURI, string(req.Body()), headers, callID)
}

func (a *Adapter) respondFinal(tx sip.ServerTransaction, req *sip.Request, code int, reason string) {
	if err := tx.Respond(sip.NewResponseFromRequest(req, code, reason, nil)); err != nil {
		a.logger.Error("failed to send final response", "call_id", callIDOf(req), "code", code, "error", errors.Wrap(err, "respond to request"))
	}
}

// Hangup sends an in-dialog BYE for callID.
func (a *Adapter) Hangup(callID string) error {
	d, ok := a.dialogFor(callID)
	if !ok {
		return fmt.Errorf("signaling: no dialog for call %s", callID)
	}
	req, err := d.buildBYE()
	if err != nil {
		return err
	}
	return a.client.WriteRequest(req)
}

// DTMFSend sends an in-dialog INFO carrying digit.
func (a *Adapter) DTMFSend(callID, digit string) error {
	d, ok := a.dialogFor(callID)
	if !ok {
		return fmt.Errorf("signaling: no dialog for call %s", callID)
	}
	req, err := d.buildINFO(digit)
	if err != nil {
		return err
	}
	return a.client.WriteRequest(req)
}

// Transfer sends an in-dialog REFER for a blind transfer to target. mode
// is accepted for API symmetry with the call manager's TransferCall but
// attended transfers (Replaces) are not constructed here; those require
// the caller to supply dialog identifiers of the target leg.
func (a *Adapter) Transfer(callID, target, mode string) error {
	d, ok := a.dialogFor(callID)
	if !ok {
		return fmt.Errorf("signaling: no dialog for call %s", callID)
	}
	var uri sip.Uri
	if err := sip.ParseUri(target, &uri); err != nil {
		return fmt.Errorf("signaling: parse transfer target %q: %w", target, err)
	}
	req, err := d.buildRefer(uri, "", "", "")
	if err != nil {
		return err
	}
	return a.sendWithResponse(req)
}

// PlayAudio is a documented no-op at the SIP signaling layer: audio
// playback is realized by direct RTP writes into the call's media
// session, not by any SIP request.
func (a *Adapter) PlayAudio(callID, ref string) error {
	return nil
}

// SendMessage sends a standalone SIP MESSAGE (not tied to any dialog),
// used for outbound SMS.
func (a *Adapter) SendMessage(toURI, fromURI, body string, headers map[string]string) (bool, error) {
	var recipient sip.Uri
	if err := sip.ParseUri(toURI, &recipient); err != nil {
		return false, fmt.Errorf("signaling: parse message target %q: %w", toURI, err)
	}

	req := sip.NewRequest(sip.MESSAGE, recipient)
	var fromAddr sip.Uri
	if err := sip.ParseUri(fromURI, &fromAddr); err == nil {
		req.AppendHeader(&sip.FromHeader{Address: fromAddr, Params: sip.HeaderParams{"tag": generateTag()}})
	}
	req.AppendHeader(&sip.ToHeader{Address: recipient})
	req.AppendHeader(sip.NewHeader("Call-ID", generateTag()))
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.MESSAGE})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(sip.NewHeader("Content-Type", "text/plain"))
	for k, v := range headers {
		req.AppendHeader(sip.NewHeader(k, v))
	}
	req.SetBody([]byte(body))

	if err := a.sendWithResponse(req); err != nil {
		return false, err
	}
	return true, nil
}

// sendWithResponse sends req via a client transaction and waits up to
// txResponseTimeout for a response, matching the synchronous
// request/response idiom used for notifications elsewhere in this stack.
func (a *Adapter) sendWithResponse(req *sip.Request) error {
	tx, err := a.client.TransactionRequest(context.Background(), req, sipgo.ClientRequestBuild)
	if err != nil {
		return fmt.Errorf("signaling: send %s: %w", req.Method, err)
	}
	select {
	case res := <-tx.Responses():
		if res.StatusCode >= 300 {
			return fmt.Errorf("signaling: %s rejected: %d %s", req.Method, res.StatusCode, res.Reason)
		}
		return nil
	case <-tx.Done():
		return tx.Err()
	case <-time.After(txResponseTimeout):
		tx.Terminate()
		return fmt.Errorf("signaling: %s timed out", req.Method)
	}
}

func (a *Adapter) dialogFor(callID string) (*dialog, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.dialogs[callID]
	return d, ok
}

// parseDTMFInfoBody recognizes application/dtmf and application/dtmf-relay
// SIP INFO bodies and extracts the carried digit.
func parseDTMFInfoBody(contentType string, body []byte) (string, bool) {
	switch contentType {
	case "application/dtmf":
		digit := trimDTMF(string(body))
		return digit, digit != ""
	case "application/dtmf-relay":
		return parseDTMFRelayBody(string(body))
	default:
		return "", false
	}
}

func trimDTMF(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\r' || s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

// parseDTMFRelayBody parses the "Signal=<digit>" line of an
// application/dtmf-relay body, ignoring the accompanying Duration line.
func parseDTMFRelayBody(body string) (string, bool) {
	const prefix = "Signal="
	start := 0
	for start < len(body) {
		end := start
		for end < len(body) && body[end] != '\n' {
			end++
		}
		line := body[start:end]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if len(line) > len(prefix) && line[:len(prefix)] == prefix {
			return trimDTMF(line[len(prefix):]), true
		}
		start = end + 1
	}
	return "", false
}

// generateTag produces a short random identifier for From tags and
// standalone-MESSAGE Call-IDs.
func generateTag() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}

package signaling

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/emiago/sipgo/sip"
)

// dialog tracks the SIP state needed to build further in-dialog requests
// (BYE, REFER, INFO) after a call has been answered. One dialog exists per
// call manager session id.
type dialog struct {
	callID       string
	inviteReq    *sip.Request
	inviteResp   *sip.Response
	remoteTarget *sip.Uri
	localSeq     uint32
	mu           sync.Mutex
}

func newDialog(callID string, inviteReq *sip.Request) *dialog {
	return &dialog{callID: callID, inviteReq: inviteReq}
}

// confirm records the final response to the original INVITE, capturing the
// remote Contact as the target for later in-dialog requests.
func (d *dialog) confirm(resp *sip.Response) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inviteResp = resp
	if contact := resp.Contact(); contact != nil {
		target := contact.Address
		d.remoteTarget = &target
	}
}

func (d *dialog) nextCSeq() uint32 {
	return atomic.AddUint32(&d.localSeq, 1)
}

// buildBYE constructs an in-dialog BYE on the leg this adapter answered:
// Request-URI is the remote Contact from the 200 OK, From is our side of
// the dialog (the original INVITE's To, with our tag), To is the caller's
// From (with its tag).
func (d *dialog) buildBYE() (*sip.Request, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inviteReq == nil || d.inviteResp == nil {
		return nil, fmt.Errorf("signaling: no confirmed dialog for call %s", d.callID)
	}

	recipient := &d.inviteReq.Recipient
	if d.remoteTarget != nil {
		recipient = d.remoteTarget
	}

	bye := sip.NewRequest(sip.BYE, *recipient.Clone())
	bye.SipVersion = d.inviteReq.SipVersion

	if h := d.inviteReq.To(); h != nil {
		fromHeader := h.AsFrom()
		bye.AppendHeader(&fromHeader)
	}
	if h := d.inviteReq.From(); h != nil {
		toHeader := h.AsTo()
		bye.AppendHeader(&toHeader)
	}
	if h := d.inviteReq.CallID(); h != nil {
		bye.AppendHeader(sip.HeaderClone(h))
	}

	bye.AppendHeader(&sip.CSeqHeader{SeqNo: d.nextCSeq(), MethodName: sip.BYE})
	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)

	bye.SetTransport(d.inviteReq.Transport())
	bye.SetSource(d.inviteReq.Source())
	return bye, nil
}

// buildINFO constructs an in-dialog INFO carrying a single DTMF digit as
// an application/dtmf body, per the SIP INFO DTMF relay convention.
func (d *dialog) buildINFO(digit string) (*sip.Request, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inviteReq == nil || d.inviteResp == nil {
		return nil, fmt.Errorf("signaling: no confirmed dialog for call %s", d.callID)
	}

	recipient := &d.inviteReq.Recipient
	if d.remoteTarget != nil {
		recipient = d.remoteTarget
	}

	info := sip.NewRequest(sip.INFO, *recipient.Clone())
	info.SipVersion = d.inviteReq.SipVersion

	if h := d.inviteReq.To(); h != nil {
		fromHeader := h.AsFrom()
		info.AppendHeader(&fromHeader)
	}
	if h := d.inviteReq.From(); h != nil {
		toHeader := h.AsTo()
		info.AppendHeader(&toHeader)
	}
	if h := d.inviteReq.CallID(); h != nil {
		info.AppendHeader(sip.HeaderClone(h))
	}

	info.AppendHeader(&sip.CSeqHeader{SeqNo: d.nextCSeq(), MethodName: sip.INFO})
	maxFwd := sip.MaxForwardsHeader(70)
	info.AppendHeader(&maxFwd)
	info.AppendHeader(sip.NewHeader("Content-Type", "application/dtmf"))
	info.SetBody([]byte(strings.ToUpper(digit)))

	info.SetTransport(d.inviteReq.Transport())
	info.SetSource(d.inviteReq.Source())
	return info, nil
}

// buildRefer constructs an in-dialog REFER for a blind transfer to target.
// Attended transfers are requested by the IVR/API layer supplying the
// Replaces parameters via replacesCallID/replacesToTag/replacesFromTag; a
// blind transfer leaves those empty.
func (d *dialog) buildRefer(target sip.Uri, replacesCallID, replacesToTag, replacesFromTag string) (*sip.Request, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inviteReq == nil || d.inviteResp == nil {
		return nil, fmt.Errorf("signaling: no confirmed dialog for call %s", d.callID)
	}

	recipient := &d.inviteReq.Recipient
	if d.remoteTarget != nil {
		recipient = d.remoteTarget
	}

	refer := sip.NewRequest(sip.REFER, *recipient.Clone())
	refer.SipVersion = d.inviteReq.SipVersion

	if h := d.inviteReq.To(); h != nil {
		fromHeader := h.AsFrom()
		refer.AppendHeader(&fromHeader)
	}
	if h := d.inviteReq.From(); h != nil {
		toHeader := h.AsTo()
		refer.AppendHeader(&toHeader)
	}
	if h := d.inviteReq.CallID(); h != nil {
		refer.AppendHeader(sip.HeaderClone(h))
	}

	refer.AppendHeader(&sip.CSeqHeader{SeqNo: d.nextCSeq(), MethodName: sip.REFER})
	maxFwd := sip.MaxForwardsHeader(70)
	refer.AppendHeader(&maxFwd)

	refer.AppendHeader(createReferToHeader(target, replacesCallID, replacesToTag, replacesFromTag))
	if h := d.inviteResp.Contact(); h != nil {
		refer.AppendHeader(createReferByHeader(h.Address))
	}

	refer.SetTransport(d.inviteReq.Transport())
	refer.SetSource(d.inviteReq.Source())
	return refer, nil
}

func createReferByHeader(contact sip.Uri) sip.Header {
	return sip.NewHeader("Referred-By", "<"+contact.String()+">")
}

// createReferToHeader builds a Refer-To header, adding an escaped Replaces
// parameter for attended transfer when all three dialog identifiers are
// supplied.
func createReferToHeader(target sip.Uri, callID, toTag, fromTag string) sip.Header {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(target.String())
	if callID != "" && toTag != "" && fromTag != "" {
		b.WriteString("?Replaces=")
		b.WriteString(callID)
		b.WriteString("%3bto-tag%3d")
		b.WriteString(toTag)
		b.WriteString("%3bfrom-tag%3d")
		b.WriteString(fromTag)
	}
	b.WriteByte('>')
	return sip.NewHeader("Refer-To", b.String())
}

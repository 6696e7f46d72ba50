package telephony

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Twilio posts application/x-www-form-urlencoded webhooks.
// Parsers here only translate fields; decisions live in internal/voice.
// Ref: https://www.twilio.com/docs/voice/twiml

var ErrMissingField = errors.New("telephony: missing required field")

type InboundForm struct {
	CallSid       string
	AccountSid    string
	From          string
	To            string
	Direction     string
	CallStatus    string
	CallerName    string
	ForwardedFrom string
	SourceIP      string
}

func ParseInbound(r *http.Request) (InboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return InboundForm{}, err
	}
	f := InboundForm{
		CallSid:       strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:    r.PostFormValue("AccountSid"),
		From:          normalizePhone(r.PostFormValue("From")),
		To:            normalizePhone(r.PostFormValue("To")),
		Direction:     r.PostFormValue("Direction"),
		CallStatus:    r.PostFormValue("CallStatus"),
		CallerName:    r.PostFormValue("CallerName"),
		ForwardedFrom: normalizePhone(r.PostFormValue("ForwardedFrom")),
	}
	if f.CallSid == "" || f.To == "" {
		return InboundForm{}, ErrMissingField
	}
	return f, nil
}

// StatusForm is a call status callback. ParentCallSid is set on the
// child legs created by a Dial verb. CallID is the internal id the gateway
// put on callback URLs of legs it placed itself.
type StatusForm struct {
	CallSid        string
	ParentCallSid  string
	CallID         string
	CallStatus     string
	CallDuration   *int
	RecordingURL   string
	Direction      string
	From           string
	To             string
	SequenceNumber string
	Timestamp      time.Time
	Raw            map[string]string
}

// statusRawKeys are copied into the event payload for the audit trail.
var statusRawKeys = []string{
	"CallSid", "ParentCallSid", "CallStatus", "CallDuration", "Direction",
	"From", "To", "SequenceNumber", "Timestamp", "AnsweredBy", "SipResponseCode",
}

func ParseStatus(r *http.Request) (StatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return StatusForm{}, err
	}
	f := StatusForm{
		CallSid:        strings.TrimSpace(r.PostFormValue("CallSid")),
		ParentCallSid:  strings.TrimSpace(r.PostFormValue("ParentCallSid")),
		CallID:         strings.TrimSpace(r.URL.Query().Get("call_id")),
		CallStatus:     strings.TrimSpace(r.PostFormValue("CallStatus")),
		RecordingURL:   r.PostFormValue("RecordingUrl"),
		Direction:      r.PostFormValue("Direction"),
		From:           normalizePhone(r.PostFormValue("From")),
		To:             normalizePhone(r.PostFormValue("To")),
		SequenceNumber: r.PostFormValue("SequenceNumber"),
		Raw:            map[string]string{},
	}
	if f.CallSid == "" || f.CallStatus == "" {
		return StatusForm{}, ErrMissingField
	}
	f.CallDuration = parseOptionalInt(r.PostFormValue("CallDuration"))
	if ts := strings.TrimSpace(r.PostFormValue("Timestamp")); ts != "" {
		if t, err := time.Parse(time.RFC1123Z, ts); err == nil {
			f.Timestamp = t.UTC()
		}
	}
	for _, k := range statusRawKeys {
		if v := r.PostFormValue(k); v != "" {
			f.Raw[k] = v
		}
	}
	return f, nil
}

// IsOutboundAPI reports whether Twilio tagged the leg as REST-originated.
func (f StatusForm) IsOutboundAPI() bool {
	return strings.EqualFold(f.Direction, "outbound-api")
}

type QueueWaitForm struct {
	CallSid       string
	QueueSid      string
	QueueTime     time.Duration
	QueuePosition int
}

func ParseQueueWait(r *http.Request) (QueueWaitForm, error) {
	if err := r.ParseForm(); err != nil {
		return QueueWaitForm{}, err
	}
	f := QueueWaitForm{
		CallSid:  strings.TrimSpace(r.PostFormValue("CallSid")),
		QueueSid: r.PostFormValue("QueueSid"),
	}
	if f.CallSid == "" {
		return QueueWaitForm{}, ErrMissingField
	}
	if v := parseOptionalInt(r.PostFormValue("QueueTime")); v != nil {
		f.QueueTime = time.Duration(*v) * time.Second
	}
	if v := parseOptionalInt(r.PostFormValue("QueuePosition")); v != nil {
		f.QueuePosition = *v
	}
	return f, nil
}

// Queue results reported on the Enqueue action callback.
const (
	QueueResultBridged    = "bridged"
	QueueResultLeave      = "leave"
	QueueResultHangup     = "hangup"
	QueueResultRedirected = "redirected"
	QueueResultQueueFull  = "queue-full"
	QueueResultError      = "error"
)

type QueueExitForm struct {
	CallSid     string
	QueueResult string
	QueueTime   time.Duration
}

func ParseQueueExit(r *http.Request) (QueueExitForm, error) {
	if err := r.ParseForm(); err != nil {
		return QueueExitForm{}, err
	}
	f := QueueExitForm{
		CallSid:     strings.TrimSpace(r.PostFormValue("CallSid")),
		QueueResult: strings.ToLower(strings.TrimSpace(r.PostFormValue("QueueResult"))),
	}
	if f.CallSid == "" {
		return QueueExitForm{}, ErrMissingField
	}
	if v := parseOptionalInt(r.PostFormValue("QueueTime")); v != nil {
		f.QueueTime = time.Duration(*v) * time.Second
	}
	return f, nil
}

type DialCompleteForm struct {
	CallSid          string
	DialCallSid      string
	DialCallStatus   string
	DialCallDuration *int
}

func ParseDialComplete(r *http.Request) (DialCompleteForm, error) {
	if err := r.ParseForm(); err != nil {
		return DialCompleteForm{}, err
	}
	f := DialCompleteForm{
		CallSid:        strings.TrimSpace(r.PostFormValue("CallSid")),
		DialCallSid:    r.PostFormValue("DialCallSid"),
		DialCallStatus: strings.ToLower(strings.TrimSpace(r.PostFormValue("DialCallStatus"))),
	}
	if f.CallSid == "" {
		return DialCompleteForm{}, ErrMissingField
	}
	f.DialCallDuration = parseOptionalInt(r.PostFormValue("DialCallDuration"))
	return f, nil
}

type RecordingForm struct {
	CallSid           string
	RecordingSid      string
	RecordingURL      string
	RecordingStatus   string
	RecordingDuration *int
}

func ParseRecording(r *http.Request) (RecordingForm, error) {
	if err := r.ParseForm(); err != nil {
		return RecordingForm{}, err
	}
	f := RecordingForm{
		CallSid:         strings.TrimSpace(r.PostFormValue("CallSid")),
		RecordingSid:    r.PostFormValue("RecordingSid"),
		RecordingURL:    strings.TrimSpace(r.PostFormValue("RecordingUrl")),
		RecordingStatus: r.PostFormValue("RecordingStatus"),
	}
	if f.CallSid == "" || f.RecordingURL == "" {
		return RecordingForm{}, ErrMissingField
	}
	f.RecordingDuration = parseOptionalInt(r.PostFormValue("RecordingDuration"))
	return f, nil
}

type TranscriptionForm struct {
	CallSid             string
	RecordingSid        string
	TranscriptionText   string
	TranscriptionStatus string
}

func ParseTranscription(r *http.Request) (TranscriptionForm, error) {
	if err := r.ParseForm(); err != nil {
		return TranscriptionForm{}, err
	}
	f := TranscriptionForm{
		CallSid:             strings.TrimSpace(r.PostFormValue("CallSid")),
		RecordingSid:        r.PostFormValue("RecordingSid"),
		TranscriptionText:   r.PostFormValue("TranscriptionText"),
		TranscriptionStatus: strings.ToLower(r.PostFormValue("TranscriptionStatus")),
	}
	if f.CallSid == "" {
		return TranscriptionForm{}, ErrMissingField
	}
	return f, nil
}

// OutboundConnectForm is the request for the dial document of an outbound
// call created through the API. call_id travels as a query parameter on
// REST-placed legs and as a custom client parameter from softphones.
type OutboundConnectForm struct {
	CallSid string
	CallID  string
	From    string
}

func ParseOutboundConnect(r *http.Request) (OutboundConnectForm, error) {
	if err := r.ParseForm(); err != nil {
		return OutboundConnectForm{}, err
	}
	f := OutboundConnectForm{
		CallSid: strings.TrimSpace(r.PostFormValue("CallSid")),
		CallID:  strings.TrimSpace(r.FormValue("call_id")),
		From:    normalizePhone(r.PostFormValue("From")),
	}
	if f.CallID == "" {
		f.CallID = strings.TrimSpace(r.PostFormValue("CallId"))
	}
	if f.CallSid == "" || f.CallID == "" {
		return OutboundConnectForm{}, ErrMissingField
	}
	return f, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}

func parseOptionalInt(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

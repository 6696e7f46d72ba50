package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strconv"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	Loop    string   `xml:"loop,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlLeave struct {
	XMLName xml.Name `xml:"Leave"`
}

type twimlDial struct {
	XMLName  xml.Name     `xml:"Dial"`
	Action   string       `xml:"action,attr,omitempty"`
	Method   string       `xml:"method,attr,omitempty"`
	Timeout  int          `xml:"timeout,attr,omitempty"`
	CallerID string       `xml:"callerId,attr,omitempty"`
	Record   string       `xml:"record,attr,omitempty"`
	Number   *twimlTarget `xml:"Number,omitempty"`
	Client   *twimlTarget `xml:"Client,omitempty"`
}

type twimlTarget struct {
	StatusCallback       string `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent  string `xml:"statusCallbackEvent,attr,omitempty"`
	StatusCallbackMethod string `xml:"statusCallbackMethod,attr,omitempty"`
	Value                string `xml:",chardata"`
}

type twimlEnqueue struct {
	XMLName       xml.Name `xml:"Enqueue"`
	Action        string   `xml:"action,attr,omitempty"`
	Method        string   `xml:"method,attr,omitempty"`
	WaitURL       string   `xml:"waitUrl,attr,omitempty"`
	WaitURLMethod string   `xml:"waitUrlMethod,attr,omitempty"`
	Queue         string   `xml:",chardata"`
}

type twimlRecord struct {
	XMLName                 xml.Name `xml:"Record"`
	MaxLength               int      `xml:"maxLength,attr,omitempty"`
	PlayBeep                string   `xml:"playBeep,attr,omitempty"`
	Transcribe              string   `xml:"transcribe,attr,omitempty"`
	TranscribeCallback      string   `xml:"transcribeCallback,attr,omitempty"`
	RecordingStatusCallback string   `xml:"recordingStatusCallback,attr,omitempty"`
}

// Document is an ordered list of carrier verbs. The zero value renders an
// empty acknowledgment.
type Document struct {
	verbs []any
}

func NewDocument() *Document { return &Document{} }

func (d *Document) Say(text string) *Document {
	if strings.TrimSpace(text) != "" {
		d.verbs = append(d.verbs, twimlSay{Text: text})
	}
	return d
}

// Play loops the audio until the carrier replaces the document.
func (d *Document) Play(url string) *Document {
	d.verbs = append(d.verbs, twimlPlay{Loop: "0", URL: url})
	return d
}

func (d *Document) Reject(reason string) *Document {
	d.verbs = append(d.verbs, twimlReject{Reason: reason})
	return d
}

func (d *Document) Hangup() *Document {
	d.verbs = append(d.verbs, twimlHangup{})
	return d
}

func (d *Document) Leave() *Document {
	d.verbs = append(d.verbs, twimlLeave{})
	return d
}

// DialOptions configure a bridge to a single target.
type DialOptions struct {
	Action         string
	TimeoutSeconds int
	CallerID       string
	Record         bool
	StatusCallback string
	// StatusEvents defaults to the full progress set when StatusCallback is set.
	StatusEvents []string
}

var defaultStatusEvents = []string{"initiated", "ringing", "answered", "completed"}

func (o DialOptions) dial() twimlDial {
	d := twimlDial{Timeout: o.TimeoutSeconds, CallerID: o.CallerID}
	if o.Action != "" {
		d.Action = o.Action
		d.Method = "POST"
	}
	if o.Record {
		d.Record = "record-from-answer"
	}
	return d
}

func (o DialOptions) target(value string) *twimlTarget {
	t := &twimlTarget{Value: value}
	if o.StatusCallback != "" {
		events := o.StatusEvents
		if len(events) == 0 {
			events = defaultStatusEvents
		}
		t.StatusCallback = o.StatusCallback
		t.StatusCallbackEvent = strings.Join(events, " ")
		t.StatusCallbackMethod = "POST"
	}
	return t
}

// DialNumber bridges the current leg to a PSTN number.
func (d *Document) DialNumber(number string, o DialOptions) *Document {
	dial := o.dial()
	dial.Number = o.target(number)
	d.verbs = append(d.verbs, dial)
	return d
}

// DialClient bridges the current leg to a softphone identity.
func (d *Document) DialClient(identity string, o DialOptions) *Document {
	dial := o.dial()
	dial.Client = o.target(identity)
	d.verbs = append(d.verbs, dial)
	return d
}

func (d *Document) Enqueue(queue, waitURL, action string) *Document {
	e := twimlEnqueue{Queue: queue, WaitURL: waitURL, Action: action}
	if waitURL != "" {
		e.WaitURLMethod = "POST"
	}
	if action != "" {
		e.Method = "POST"
	}
	d.verbs = append(d.verbs, e)
	return d
}

// RecordOptions configure a voicemail recording.
type RecordOptions struct {
	MaxLengthSeconds   int
	RecordingCallback  string
	TranscribeCallback string
}

func (d *Document) Record(o RecordOptions) *Document {
	r := twimlRecord{
		MaxLength:               o.MaxLengthSeconds,
		PlayBeep:                "true",
		RecordingStatusCallback: o.RecordingCallback,
	}
	if o.TranscribeCallback != "" {
		r.Transcribe = "true"
		r.TranscribeCallback = o.TranscribeCallback
	}
	d.verbs = append(d.verbs, r)
	return d
}

// Len reports the number of verbs.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.verbs)
}

// Render encodes the document as TwiML.
func (d *Document) Render() (string, error) {
	var r twimlResponse
	if d != nil {
		for _, v := range d.verbs {
			if err := validateVerb(v); err != nil {
				return "", err
			}
		}
		r.Verbs = d.verbs
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func validateVerb(v any) error {
	switch t := v.(type) {
	case twimlDial:
		target := t.Number
		if target == nil {
			target = t.Client
		}
		if target == nil || strings.TrimSpace(target.Value) == "" {
			return errors.New("telephony: dial target required")
		}
		if t.Timeout < 0 {
			return errors.New("telephony: dial timeout must be positive, got " + strconv.Itoa(t.Timeout))
		}
	case twimlEnqueue:
		if strings.TrimSpace(t.Queue) == "" {
			return errors.New("telephony: queue name required")
		}
	case twimlPlay:
		if strings.TrimSpace(t.URL) == "" {
			return errors.New("telephony: play url required")
		}
	}
	return nil
}

package telephony

import (
	"strings"
	"testing"
)

func TestRenderEmptyDocument(t *testing.T) {
	var d *Document
	xml, err := d.Render()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, "<Response></Response>") {
		t.Fatalf("expected empty response, got %s", xml)
	}
}

func TestRenderRejectWithNotice(t *testing.T) {
	xml, err := NewDocument().Say("Service unavailable").Reject("rejected").Render()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{"<Say>Service unavailable</Say>", `<Reject reason="rejected"></Reject>`} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
	if strings.Index(xml, "<Say>") > strings.Index(xml, "<Reject") {
		t.Fatalf("expected Say before Reject: %s", xml)
	}
}

func TestRenderDialClient(t *testing.T) {
	xml, err := NewDocument().DialClient("agent-1", DialOptions{
		Action:         "https://gw.example.com/webhooks/voice/dial-complete",
		TimeoutSeconds: 30,
		StatusCallback: "https://gw.example.com/webhooks/voice/status",
		StatusEvents:   []string{"answered", "completed"},
	}).Render()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		`action="https://gw.example.com/webhooks/voice/dial-complete"`,
		`timeout="30"`,
		`<Client statusCallback="https://gw.example.com/webhooks/voice/status" statusCallbackEvent="answered completed" statusCallbackMethod="POST">agent-1</Client>`,
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
}

func TestRenderDialNumberDefaultsStatusEvents(t *testing.T) {
	xml, err := NewDocument().DialNumber("+15557654321", DialOptions{
		CallerID:       "+15550000000",
		Record:         true,
		StatusCallback: "https://gw.example.com/webhooks/voice/status",
	}).Render()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		`callerId="+15550000000"`,
		`record="record-from-answer"`,
		`statusCallbackEvent="initiated ringing answered completed"`,
		">+15557654321</Number>",
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
}

func TestRenderDialRequiresTarget(t *testing.T) {
	if _, err := NewDocument().DialNumber(" ", DialOptions{}).Render(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRenderEnqueueAndHold(t *testing.T) {
	xml, err := NewDocument().Enqueue("biz-1:support", "https://gw/wait", "https://gw/exit").Render()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, `<Enqueue action="https://gw/exit" method="POST" waitUrl="https://gw/wait" waitUrlMethod="POST">biz-1:support</Enqueue>`) {
		t.Fatalf("unexpected enqueue: %s", xml)
	}

	hold, err := NewDocument().Play("https://cdn/hold.mp3").Render()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(hold, `<Play loop="0">https://cdn/hold.mp3</Play>`) {
		t.Fatalf("unexpected hold: %s", hold)
	}

	if _, err := NewDocument().Enqueue("", "", "").Render(); err == nil {
		t.Fatalf("expected queue name error")
	}
}

func TestRenderVoicemail(t *testing.T) {
	xml, err := NewDocument().Say("Leave a message").Record(RecordOptions{
		MaxLengthSeconds:   120,
		RecordingCallback:  "https://gw/rec",
		TranscribeCallback: "https://gw/tx",
	}).Hangup().Render()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{`maxLength="120"`, `transcribe="true"`, `transcribeCallback="https://gw/tx"`, `recordingStatusCallback="https://gw/rec"`, "<Hangup></Hangup>"} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
}

func TestSayEscapesText(t *testing.T) {
	xml, err := NewDocument().Say("Tom & Jerry <support>").Render()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, "Tom &amp; Jerry &lt;support&gt;") {
		t.Fatalf("expected escaped text: %s", xml)
	}
}

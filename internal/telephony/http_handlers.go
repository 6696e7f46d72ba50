package telephony

import (
	"context"
	"errors"
	"net/http"

	"voice-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Flows makes the call-control decisions for each carrier webhook.
// Implemented by internal/voice.
type Flows interface {
	Inbound(ctx context.Context, f InboundForm) (*Document, error)
	Status(ctx context.Context, f StatusForm) error
	QueueWait(ctx context.Context, f QueueWaitForm) (*Document, error)
	QueueExit(ctx context.Context, f QueueExitForm) (*Document, error)
	DialComplete(ctx context.Context, f DialCompleteForm) (*Document, error)
	OutboundConnect(ctx context.Context, f OutboundConnectForm) (*Document, error)
	Recording(ctx context.Context, f RecordingForm) error
	Transcription(ctx context.Context, f TranscriptionForm) error
}

// Webhook paths, relative to the public base URL.
const (
	PathInbound       = "/webhooks/voice/inbound"
	PathStatus        = "/webhooks/voice/status"
	PathQueueWait     = "/webhooks/voice/queue-wait"
	PathQueueExit     = "/webhooks/voice/queue-exit"
	PathRecording     = "/webhooks/voice/recording"
	PathTranscription = "/webhooks/voice/transcription"
	PathOutbound      = "/webhooks/voice/outbound"
	PathDialComplete  = "/webhooks/voice/dial-complete"
)

var (
	// ErrUnknownCall is returned by Flows when a webhook references a call the
	// gateway never saw. Control webhooks answer it with 404.
	ErrUnknownCall = errors.New("telephony: unknown call")
	// ErrMalformedEvent marks an event the gateway can never apply. Answered with 400.
	ErrMalformedEvent = errors.New("telephony: malformed event")
)

const fallbackMessage = "We are unable to take your call right now. Please try again later."

// WebhookHandler converts Twilio webhooks to internal forms, delegates to
// Flows and writes TwiML. No business logic here.
type WebhookHandler struct {
	Flows Flows
}

// Register mounts the carrier webhooks on r. mw runs before every handler
// (signature check).
func (h WebhookHandler) Register(r gin.IRoutes, mw ...gin.HandlerFunc) {
	with := func(fn gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, mw...), fn)
	}
	r.POST(PathInbound, with(h.HandleInbound)...)
	r.POST(PathStatus, with(h.HandleStatus)...)
	r.POST(PathQueueWait, with(h.HandleQueueWait)...)
	r.POST(PathQueueExit, with(h.HandleQueueExit)...)
	r.POST(PathRecording, with(h.HandleRecording)...)
	r.POST(PathTranscription, with(h.HandleTranscription)...)
	r.POST(PathOutbound, with(h.HandleOutbound)...)
	r.POST(PathDialComplete, with(h.HandleDialComplete)...)
}

func (h WebhookHandler) HandleInbound(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseInbound(c.Request)
	if err != nil {
		log.Warn("inbound webhook parse failed", "err", err)
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	form.SourceIP = c.ClientIP()

	doc, err := h.Flows.Inbound(c.Request.Context(), form)
	if err != nil {
		// The caller still gets a spoken notice instead of a carrier error tone.
		log.Error("inbound call flow failed", "carrier_call_id", form.CallSid, "err", err)
		doc = NewDocument().Say(fallbackMessage).Hangup()
	}
	writeDocument(c, doc)
}

func (h WebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseStatus(c.Request)
	if err != nil {
		log.Warn("status webhook parse failed", "err", err)
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	err = h.Flows.Status(c.Request.Context(), form)
	h.acknowledge(c, "status event", form.CallSid, err)
}

func (h WebhookHandler) HandleQueueWait(c *gin.Context) {
	form, err := ParseQueueWait(c.Request)
	if err != nil {
		logger.FromGin(c).Warn("queue wait webhook parse failed", "err", err)
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	doc, err := h.Flows.QueueWait(c.Request.Context(), form)
	h.respond(c, form.CallSid, doc, err)
}

func (h WebhookHandler) HandleQueueExit(c *gin.Context) {
	form, err := ParseQueueExit(c.Request)
	if err != nil {
		logger.FromGin(c).Warn("queue exit webhook parse failed", "err", err)
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	doc, err := h.Flows.QueueExit(c.Request.Context(), form)
	h.respond(c, form.CallSid, doc, err)
}

func (h WebhookHandler) HandleDialComplete(c *gin.Context) {
	form, err := ParseDialComplete(c.Request)
	if err != nil {
		logger.FromGin(c).Warn("dial complete webhook parse failed", "err", err)
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	doc, err := h.Flows.DialComplete(c.Request.Context(), form)
	h.respond(c, form.CallSid, doc, err)
}

func (h WebhookHandler) HandleOutbound(c *gin.Context) {
	form, err := ParseOutboundConnect(c.Request)
	if err != nil {
		logger.FromGin(c).Warn("outbound webhook parse failed", "err", err)
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	doc, err := h.Flows.OutboundConnect(c.Request.Context(), form)
	h.respond(c, form.CallSid, doc, err)
}

func (h WebhookHandler) HandleRecording(c *gin.Context) {
	form, err := ParseRecording(c.Request)
	if err != nil {
		logger.FromGin(c).Warn("recording webhook parse failed", "err", err)
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	err = h.Flows.Recording(c.Request.Context(), form)
	h.acknowledge(c, "recording attach", form.CallSid, err)
}

func (h WebhookHandler) HandleTranscription(c *gin.Context) {
	form, err := ParseTranscription(c.Request)
	if err != nil {
		logger.FromGin(c).Warn("transcription webhook parse failed", "err", err)
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	err = h.Flows.Transcription(c.Request.Context(), form)
	h.acknowledge(c, "transcript attach", form.CallSid, err)
}

// acknowledge answers a notification webhook. Events for unknown calls are acknowledged
// and dropped; any other failure gets a 5xx so the carrier redelivers the event.
func (h WebhookHandler) acknowledge(c *gin.Context, what, callSid string, err error) {
	log := logger.FromGin(c)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownCall):
		log.Warn(what+" for unknown call dropped", "carrier_call_id", callSid)
	case errors.Is(err, ErrMalformedEvent):
		log.Warn(what+" rejected", "carrier_call_id", callSid, "err", err)
		c.AbortWithStatus(http.StatusBadRequest)
		return
	default:
		log.Error(what+" failed", "carrier_call_id", callSid, "err", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	writeDocument(c, nil)
}

func (h WebhookHandler) respond(c *gin.Context, callSid string, doc *Document, err error) {
	if err != nil {
		if errors.Is(err, ErrUnknownCall) {
			logger.FromGin(c).Warn("webhook for unknown call", "carrier_call_id", callSid)
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		logger.FromGin(c).Error("call flow failed", "carrier_call_id", callSid, "err", err)
		writeDocument(c, NewDocument().Say(fallbackMessage).Hangup())
		return
	}
	writeDocument(c, doc)
}

func writeDocument(c *gin.Context, doc *Document) {
	twiml, err := doc.Render()
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

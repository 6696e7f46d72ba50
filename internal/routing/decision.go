package routing

// Decision is the carrier-agnostic output of inbound routing.
//
// It carries only what the carrier document builder needs to act on it.
type Decision struct {
	BusinessID string `json:"business_id"`
	Action     Action `json:"action"`

	// Set for ActionConnectAgent. The agent is already claimed for the call.
	AgentID string `json:"agent_id,omitempty"`
	// Set for ActionForward.
	ForwardTo string `json:"forward_to,omitempty"`
	// Set for ActionEnqueue, ActionVoicemail and ActionMessage.
	Queue Queue `json:"queue"`

	// Reason is for internal logs and metrics only.
	Reason string `json:"reason,omitempty"`
}

type Action string

const (
	ActionConnectAgent Action = "connect_agent"
	ActionForward      Action = "forward"
	ActionEnqueue      Action = "enqueue"
	ActionVoicemail    Action = "voicemail"
	ActionMessage      Action = "message"
)

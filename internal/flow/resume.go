package flow

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/solarlytics/analyst/internal/models"
)

// Paused workflows embed a hidden, HTML-comment-delimited JSON block in the
// assistant message so flow context can be recovered from conversation
// history across process restarts. The session store is the primary resume
// mechanism; this block keeps old transcripts resumable and is stripped
// before message text reaches the user.
const (
	resumeMarkerOpen  = "<!--solarlytics:flowstate "
	resumeMarkerClose = "-->"
)

// ResumeMetadata describes a paused workflow: what was running, which
// argument it is waiting for, and any extracted-but-unconfirmed entities.
type ResumeMetadata struct {
	V                int                 `json:"v"`
	Workflow         models.Workflow     `json:"workflow"`
	WaitingField     string              `json:"waitingField,omitempty"`
	RecoveryAttempts int                 `json:"recoveryAttempts,omitempty"`
	Entities         *models.FlowContext `json:"entities,omitempty"`
}

// EncodeResumeMetadata renders the hidden block to append to a pause message.
func EncodeResumeMetadata(meta ResumeMetadata) string {
	if meta.V == 0 {
		meta.V = 1
	}
	data, err := json.Marshal(meta)
	if err != nil {
		slog.Error("flow.EncodeResumeMetadata: marshal failed", "error", err)
		return ""
	}
	return resumeMarkerOpen + string(data) + resumeMarkerClose
}

// ParseResumeMetadata extracts the hidden block from message content.
func ParseResumeMetadata(content string) (*ResumeMetadata, bool) {
	start := strings.Index(content, resumeMarkerOpen)
	if start < 0 {
		return nil, false
	}
	rest := content[start+len(resumeMarkerOpen):]
	end := strings.Index(rest, resumeMarkerClose)
	if end < 0 {
		return nil, false
	}
	var meta ResumeMetadata
	if err := json.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		slog.Warn("flow.ParseResumeMetadata: malformed metadata block, ignoring", "error", err)
		return nil, false
	}
	return &meta, true
}

// StripResumeMetadata removes every hidden block from content before it is
// shown to the user or fed back into a prompt.
func StripResumeMetadata(content string) string {
	for {
		start := strings.Index(content, resumeMarkerOpen)
		if start < 0 {
			return strings.TrimRight(content, " \n")
		}
		rest := content[start+len(resumeMarkerOpen):]
		end := strings.Index(rest, resumeMarkerClose)
		if end < 0 {
			return strings.TrimRight(content[:start], " \n")
		}
		content = content[:start] + rest[end+len(resumeMarkerClose):]
	}
}

// RecoverFromHistory scans conversation history for the most recent pause
// metadata. Used when no session record exists for the conversation.
func RecoverFromHistory(messages []models.Message) *ResumeMetadata {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != models.RoleAssistant {
			continue
		}
		if meta, ok := ParseResumeMetadata(messages[i].Content); ok {
			return meta
		}
	}
	return nil
}

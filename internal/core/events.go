package core

// Frames written to the client event stream, in the order they can appear.
type (
	SessionFrame struct {
		SessionID string `json:"sessionId"`
	}
	TypeFrame struct {
		Type string `json:"type"`
	}
	TextFrame struct {
		Text string `json:"text"`
	}
	ErrorFrame struct {
		Error string `json:"error"`
	}
)

const (
	FrameTruncationWarning = "truncation_warning"
	FrameEvaluationStart   = "evaluation_start"
)

// StreamErrorMessage is what the client sees when the model stream fails.
// The cause is logged, never forwarded.
const StreamErrorMessage = "回答の生成中にエラーが発生しました。時間をおいて再度お試しください。"

// EventSink receives the frames of one streamed response. Done writes the
// terminal sentinel.
type EventSink interface {
	Send(frame any) error
	Done() error
}

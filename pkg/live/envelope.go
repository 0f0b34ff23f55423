package live

import "encoding/json"

// PCMMimeType is the media type declared on every outbound audio chunk.
// The rate suffix is part of the service contract.
const PCMMimeType = "audio/pcm;rate=16000"

// ── Client envelopes ───────────────────────────────────────────────────────────
//
// Exactly one of the union's fields is populated per message. The JSON
// field that is present tags the variant.

// ClientEnvelope is one outbound protocol message.
type ClientEnvelope struct {
	Setup         *Setup         `json:"setup,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
	ClientContent *ClientContent `json:"clientContent,omitempty"`
	ToolResponse  *ToolResponse  `json:"toolResponse,omitempty"`
}

// Setup is the handshake request sent immediately after the socket opens.
// No other traffic is valid until the server acknowledges it.
type Setup struct {
	Model             string             `json:"model"`
	GenerationConfig  GenerationConfig   `json:"generationConfig"`
	SystemInstruction *SystemInstruction `json:"systemInstruction,omitempty"`
	Tools             []Tool             `json:"tools,omitempty"`
}

// GenerationConfig selects output modalities and voice.
type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// SpeechConfig nests the prebuilt voice selection.
type SpeechConfig struct {
	VoiceConfig VoiceConfig `json:"voiceConfig"`
}

// VoiceConfig wraps the prebuilt voice config.
type VoiceConfig struct {
	PrebuiltVoiceConfig PrebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

// PrebuiltVoiceConfig names one of the service's built-in voices.
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// SystemInstruction carries the session's system prompt.
type SystemInstruction struct {
	Parts []Part `json:"parts"`
}

// Part is one piece of turn content: text, or inline binary data.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData is base64-encoded binary content with a media type. Audio
// parts carry raw little-endian 16-bit PCM.
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

// Tool groups the function declarations offered to the model.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// FunctionDeclaration describes one callable function.
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// RealtimeInput streams captured media to the model.
type RealtimeInput struct {
	MediaChunks []MediaChunk `json:"mediaChunks"`
}

// MediaChunk is one base64-encoded audio (or video) chunk.
type MediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

// ClientContent injects a text turn into the conversation.
type ClientContent struct {
	Turns        []ContentTurn `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

// ContentTurn is one conversation turn with a role.
type ContentTurn struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// ToolResponse returns function results to the model.
type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

// FunctionResponse answers one FunctionCall. ID and Name must match the
// originating call; Response carries either a "result" value or an
// "error" value, never both.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ── Server envelopes ───────────────────────────────────────────────────────────

// ServerEnvelope is one inbound protocol message. Exactly one field is
// populated; messages where none is recognised are dropped by the
// transport dispatch.
type ServerEnvelope struct {
	SetupComplete        *json.RawMessage      `json:"setupComplete,omitempty"`
	ServerContent        *ServerContent        `json:"serverContent,omitempty"`
	ToolCall             *ToolCall             `json:"toolCall,omitempty"`
	ToolCallCancellation *ToolCallCancellation `json:"toolCallCancellation,omitempty"`
	Error                *ServerError          `json:"error,omitempty"`
}

// ServerError is a non-fatal error report embedded in the stream.
type ServerError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// ServerContent carries a slice of the model's turn: audio and/or text
// parts, plus turn-boundary flags.
type ServerContent struct {
	ModelTurn           *ModelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

// ModelTurn holds the parts of the model's current turn.
type ModelTurn struct {
	Parts []Part `json:"parts"`
}

// Transcription is a speech-recognition fragment, for either side of the
// conversation.
type Transcription struct {
	Text string `json:"text"`
}

// ToolCall requests execution of one or more functions. Each call must be
// answered with a [FunctionResponse] carrying the same ID and Name.
type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

// FunctionCall is one requested invocation, correlated by ID.
type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolCallCancellation withdraws previously issued calls by ID.
type ToolCallCancellation struct {
	IDs []string `json:"ids"`
}

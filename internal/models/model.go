package models

// ModelInfo describes a model the backend knows how to download.
type ModelInfo struct {
	Name           string `json:"name" yaml:"name"`
	Repo           string `json:"repo" yaml:"repo"`
	Size           int64  `json:"size" yaml:"size"`
	SupportsVision bool   `json:"supports_vision" yaml:"supportsVision"`
	Params         string `json:"params" yaml:"params"`
}

// ModelStatus mirrors the backend's view of the default model.
type ModelStatus string

const (
	// ModelStatusUnset means no default model is set, or it is not present locally.
	ModelStatusUnset ModelStatus = "unset"
	// ModelStatusReady means the default model is downloaded and usable.
	ModelStatusReady ModelStatus = "ready"
	// ModelStatusDownloading means a model download is in progress.
	ModelStatusDownloading ModelStatus = "downloading"
)

// Push notification channels emitted by the backend.
const (
	// ChannelDownloadingModel carries a boolean: true when a download starts, false when it ends.
	ChannelDownloadingModel = "downloading-model"
	// ChannelDownloadProgress carries the download completion percentage as a number.
	ChannelDownloadProgress = "download-progress"
	// ChannelGenerationChunk carries GenerationChunk values while a reply is streamed.
	ChannelGenerationChunk = "generation-chunk"
)

// GenerationChunk is a piece of an assistant reply being generated for a conversation.
type GenerationChunk struct {
	ConversationID string `json:"convId"`
	Text           string `json:"text"`
}

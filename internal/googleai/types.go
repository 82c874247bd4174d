// Package googleai provides an HTTP client for the Gemini API long-running
// video (Veo) and image prediction (Imagen) endpoints.
package googleai

// InlineData is base64 media embedded in a request or response.
type InlineData struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded,omitempty"`
	MimeType           string `json:"mimeType,omitempty"`
}

// VideoInstance is a single Veo generation instance.
type VideoInstance struct {
	Prompt    string      `json:"prompt,omitempty"`
	Image     *InlineData `json:"image,omitempty"`
	LastFrame *InlineData `json:"lastFrame,omitempty"`
	Video     *VideoRef   `json:"video,omitempty"`
}

// VideoRef points at a previously generated video to extend.
type VideoRef struct {
	URI string `json:"uri"`
}

// VideoParameters are the Veo generation parameters.
type VideoParameters struct {
	AspectRatio      string `json:"aspectRatio,omitempty"`
	Resolution       string `json:"resolution,omitempty"`
	DurationSeconds  int    `json:"durationSeconds,omitempty"`
	NegativePrompt   string `json:"negativePrompt,omitempty"`
	PersonGeneration string `json:"personGeneration,omitempty"`
	SampleCount      int    `json:"sampleCount,omitempty"`
}

// VideoRequest is the body of models/{model}:predictLongRunning.
type VideoRequest struct {
	Instances  []VideoInstance `json:"instances"`
	Parameters VideoParameters `json:"parameters"`
}

// Operation is a long-running operation resource.
type Operation struct {
	Name     string             `json:"name"`
	Done     bool               `json:"done"`
	Error    *Status            `json:"error,omitempty"`
	Response *OperationResponse `json:"response,omitempty"`
}

// Status is the Google RPC error shape.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// OperationResponse holds the result of a finished video operation.
type OperationResponse struct {
	GenerateVideoResponse struct {
		GeneratedSamples        []GeneratedSample `json:"generatedSamples"`
		RAIMediaFilteredCount   int               `json:"raiMediaFilteredCount,omitempty"`
		RAIMediaFilteredReasons []string          `json:"raiMediaFilteredReasons,omitempty"`
	} `json:"generateVideoResponse"`
}

// GeneratedSample is a single generated video.
type GeneratedSample struct {
	Video struct {
		URI string `json:"uri"`
	} `json:"video"`
}

// VideoURI returns the first generated video URI, if any.
func (o Operation) VideoURI() string {
	if o.Response == nil {
		return ""
	}
	for _, s := range o.Response.GenerateVideoResponse.GeneratedSamples {
		if s.Video.URI != "" {
			return s.Video.URI
		}
	}
	return ""
}

// FilteredReason returns the safety filter reason when output was withheld.
func (o Operation) FilteredReason() string {
	if o.Response == nil || len(o.Response.GenerateVideoResponse.RAIMediaFilteredReasons) == 0 {
		return ""
	}
	return o.Response.GenerateVideoResponse.RAIMediaFilteredReasons[0]
}

// ImageInstance is a single Imagen prompt.
type ImageInstance struct {
	Prompt string `json:"prompt"`
}

// ImageParameters are the Imagen generation parameters.
type ImageParameters struct {
	SampleCount      int    `json:"sampleCount"`
	AspectRatio      string `json:"aspectRatio,omitempty"`
	ImageSize        string `json:"imageSize,omitempty"`
	PersonGeneration string `json:"personGeneration,omitempty"`
}

// ImageRequest is the body of models/{model}:predict.
type ImageRequest struct {
	Instances  []ImageInstance `json:"instances"`
	Parameters ImageParameters `json:"parameters"`
}

// Prediction is a single generated image.
type Prediction struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
	RAIFilteredReason  string `json:"raiFilteredReason,omitempty"`
}

type predictResponse struct {
	Predictions []Prediction `json:"predictions"`
}

type errorEnvelope struct {
	Error Status `json:"error"`
}

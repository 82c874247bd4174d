// Package kling provides an HTTP client for the Kling video generation API.
package kling

// TaskStatus represents the status of a Kling task.
type TaskStatus string

// Kling task statuses aligned with the Kling API.
const (
	TaskSubmitted  TaskStatus = "submitted"
	TaskProcessing TaskStatus = "processing"
	TaskSucceed    TaskStatus = "succeed"
	TaskFailed     TaskStatus = "failed"
)

// IsTerminal returns true if the status is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskSucceed || s == TaskFailed
}

// Endpoint identifies a Kling task family. Task status lookups must use the
// same endpoint the task was created on.
type Endpoint string

// Task endpoints.
const (
	EndpointText2Video    Endpoint = "text2video"
	EndpointImage2Video   Endpoint = "image2video"
	EndpointMotionControl Endpoint = "motion-control"
)

// IsValid returns true if the endpoint is known.
func (e Endpoint) IsValid() bool {
	switch e {
	case EndpointText2Video, EndpointImage2Video, EndpointMotionControl:
		return true
	default:
		return false
	}
}

// TextToVideoRequest is the body of POST /v1/videos/text2video.
type TextToVideoRequest struct {
	ModelName      string `json:"model_name"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Mode           string `json:"mode,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	Duration       string `json:"duration,omitempty"`
	Sound          string `json:"sound,omitempty"`
	CallbackURL    string `json:"callback_url,omitempty"`
}

// ImageToVideoRequest is the body of POST /v1/videos/image2video.
// Image and ImageTail hold either a URL or raw base64 without a data URI prefix.
type ImageToVideoRequest struct {
	ModelName      string `json:"model_name"`
	Image          string `json:"image"`
	ImageTail      string `json:"image_tail,omitempty"`
	Prompt         string `json:"prompt,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Mode           string `json:"mode,omitempty"`
	Duration       string `json:"duration,omitempty"`
	Sound          string `json:"sound,omitempty"`
	CallbackURL    string `json:"callback_url,omitempty"`
}

// MotionControlRequest is the body of POST /v1/videos/motion-control.
type MotionControlRequest struct {
	ModelName   string `json:"model_name"`
	ImageURL    string `json:"image_url"`
	VideoURL    string `json:"video_url"`
	Prompt      string `json:"prompt,omitempty"`
	Mode        string `json:"mode,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// envelope is the common Kling response wrapper.
type envelope struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Data      Task   `json:"data"`
}

// Task is a Kling task as returned by create, query and callback.
type Task struct {
	TaskID        string     `json:"task_id"`
	TaskStatus    TaskStatus `json:"task_status"`
	TaskStatusMsg string     `json:"task_status_msg,omitempty"`
	TaskResult    TaskResult `json:"task_result"`
	CreatedAt     int64      `json:"created_at,omitempty"`
	UpdatedAt     int64      `json:"updated_at,omitempty"`
}

// TaskResult holds the generated videos of a finished task.
type TaskResult struct {
	Videos []Video `json:"videos,omitempty"`
}

// Video is a single generated video.
type Video struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Duration string `json:"duration"`
}

// FirstVideoURL returns the URL of the first generated video, if any.
func (t Task) FirstVideoURL() string {
	for _, v := range t.TaskResult.Videos {
		if v.URL != "" {
			return v.URL
		}
	}
	return ""
}

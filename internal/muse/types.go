// Package muse provides an HTTP client for the Muse music generation API.
package muse

// TaskStatus represents the status of a Muse generation task.
type TaskStatus string

// Muse task statuses aligned with the Muse API.
const (
	StatusPending        TaskStatus = "PENDING"
	StatusTextSuccess    TaskStatus = "TEXT_SUCCESS"
	StatusFirstSuccess   TaskStatus = "FIRST_SUCCESS"
	StatusSuccess        TaskStatus = "SUCCESS"
	StatusCreateFailed   TaskStatus = "CREATE_TASK_FAILED"
	StatusGenerateFailed TaskStatus = "GENERATE_AUDIO_FAILED"
	StatusCallbackFailed TaskStatus = "CALLBACK_EXCEPTION"
	StatusSensitiveWord  TaskStatus = "SENSITIVE_WORD_ERROR"
)

// IsTerminal returns true if the status is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusSuccess || s.IsFailure()
}

// IsFailure returns true if the status is a terminal failure.
func (s TaskStatus) IsFailure() bool {
	switch s {
	case StatusCreateFailed, StatusGenerateFailed, StatusCallbackFailed, StatusSensitiveWord:
		return true
	default:
		return false
	}
}

// GenerationSpec contains the parameters for submitting a generation task.
type GenerationSpec struct {
	Lyrics      string // Lyric text the track is generated from
	Style       string // Musical style (e.g. "upbeat pop")
	Title       string // Track title
	Model       string // Provider model name (default applied when empty)
	CallbackURL string // Webhook URL the provider posts completion to
}

// StatusResult contains the result of a status fetch.
type StatusResult struct {
	Status          TaskStatus
	AudioURL        string  // Set when Status is StatusSuccess
	ImageURL        string  // Cover image URL, set when Status is StatusSuccess
	DurationSeconds float64 // Track length, set when Status is StatusSuccess
	ErrorMessage    string  // Set when Status is a failure state
}

// envelope is the common Muse API response wrapper.
type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// generateRequest represents the request body for the /generate endpoint.
type generateRequest struct {
	Prompt      string `json:"prompt"`
	Style       string `json:"style"`
	Title       string `json:"title"`
	CustomMode  bool   `json:"customMode"`
	Model       string `json:"model"`
	CallBackURL string `json:"callBackUrl,omitempty"`
}

// generateResponse represents the response from the /generate endpoint.
type generateResponse struct {
	envelope
	Data struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

// trackData is one generated track in a record-info response.
type trackData struct {
	AudioURL string  `json:"audioUrl"`
	ImageURL string  `json:"imageUrl"`
	Duration float64 `json:"duration"`
	Title    string  `json:"title"`
}

// recordInfoResponse represents the response from the /generate/record-info endpoint.
type recordInfoResponse struct {
	envelope
	Data struct {
		TaskID   string `json:"taskId"`
		Status   string `json:"status"`
		Response struct {
			Tracks []trackData `json:"data"`
		} `json:"response"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"data"`
}

// creditsResponse represents the response from the /generate/credit endpoint.
type creditsResponse struct {
	envelope
	Data float64 `json:"data"`
}

package domain

// Notification is the user facing text shown when a toggle action fails.
type Notification struct {
	Summary string
	Hint    string
}

// NotificationFor maps an error code to a desktop notification.
func NotificationFor(code ErrorCode) Notification {
	switch code {
	case ErrorCodeNoModel:
		return Notification{Summary: "No transcription model selected", Hint: "Configure a model or API key and restart the daemon."}
	case ErrorCodeRecorderBusy:
		return Notification{Summary: "Microphone is busy", Hint: "Another dictation session is still recording."}
	case ErrorCodeRecorderUnavailable:
		return Notification{Summary: "Microphone unavailable", Hint: "Check the audio input device."}
	case ErrorCodeTranscriptionFailed:
		return Notification{Summary: "Transcription failed", Hint: "Check the daemon logs for details."}
	case ErrorCodeFocusUnavailable:
		return Notification{Summary: "No focused dictation engine", Hint: "Focus a text field and try again."}
	case ErrorCodeSwitchFailed:
		return Notification{Summary: "Failed to switch input source", Hint: "Check that the dikt input method is installed."}
	case ErrorCodeStopFailed:
		return Notification{Summary: "Failed to stop recording", Hint: "The recording was cancelled."}
	case ErrorCodeInvalidTarget:
		return Notification{Summary: "Invalid dictation target", Hint: "Focus a text field and try again."}
	default:
		return Notification{Summary: "Failed to start dictation", Hint: "Check that the dikt daemon is running."}
	}
}

package session

const (
	messageSessionStarted       = "Transcription started. I will post the transcript here when everyone leaves the voice channel."
	messageSessionEnded         = "Transcription finished. The full transcript is attached."
	messageSessionEndedNoSpeech = "Transcription finished. No speech was captured, so there is no transcript."

	messageStopNoSession    = "No transcription session is running in your voice channel."
	messageStopNotInChannel = "Join the monitored voice channel before using this command."
	messageStopAccepted     = "Ending the session now. The transcript will follow shortly."
	messageSwapUnknown      = "Unknown transcription provider. Available: %s."
	messageSwapInProgress   = "A provider swap is already in progress. Try again in a moment."
	messageSwapSameProvider = "That provider is already active."
	messageSwapAccepted     = "Swapping transcription provider to %s. Buffered audio is flushed through the current provider first."
	messageSwapDone         = "Transcription provider is now %s (%d buffers flushed, %d jobs drained during the swap)."
	messageSwapFailed       = "Provider swap to %s failed: %s"
	messageProviderStatus   = "Active transcription provider: %s."
	messageInternalError    = "Something went wrong. Check the logs."
)

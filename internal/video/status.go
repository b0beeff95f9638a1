package video

// Aggregate collapses the per-destination states of a video's enabled
// destinations into one video-level status. It is a pure function of the
// multiset of states; evaluation order never matters. An empty input yields
// pending.
//
// Precedence: all success, any uploading, all cancelled, all failed, any
// success, otherwise pending.
func Aggregate(states []DestinationState) Status {
	if len(states) == 0 {
		return StatusPending
	}

	var success, uploading, cancelled, failed int
	for _, s := range states {
		switch s {
		case DestSuccess:
			success++
		case DestUploading:
			uploading++
		case DestCancelled:
			cancelled++
		case DestFailed:
			failed++
		}
	}

	total := len(states)
	switch {
	case success == total:
		return StatusUploaded
	case uploading > 0:
		return StatusUploading
	case cancelled == total:
		return StatusCancelled
	case failed == total:
		return StatusFailed
	case success > 0:
		return StatusPartial
	default:
		return StatusPending
	}
}

package intake

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/fetchgate/internal/media"
)

const (
	textUsage             = "Send me a video link and I'll fetch it for you. Videos up to %s are free."
	textSendLink          = "Please send a supported video link."
	textSlowDown          = "You're sending links too quickly. Please wait a moment and try again."
	textQueued            = "Queued your video for download. You'll receive it soon."
	textQueuedUnknownSize = "Queued your video for download. Its size could not be determined, so it may be large or fail to send."
	textQueueFull         = "The download queue is full right now. Please try again shortly."
	textStorageDown       = "Could not check your access right now. Please try again later."
	textTryAgain          = "Something went wrong. Please try again."
	textNotAuthorized     = "You are not authorized to do that."
	textExpired           = "This request has expired. Please send the link again."
	textAuthRefresh       = "The downloader needs its sign-in cookies refreshed before it can fetch this video. The operator has been notified; please try again later."
)

func formatSize(b int64) string {
	return fmt.Sprintf("%.1fMB", float64(b)/(1<<20))
}

func progressText(progress int) string {
	return fmt.Sprintf("%d/%d, need %d", progress, media.GateSteps, media.GateSteps)
}

func describeEntitlement(rec media.UserEntitlement) string {
	access := "no"
	if rec.AdminGranted {
		access = "yes"
	}
	return fmt.Sprintf("User %s: admin access %s, gate progress %d/%d.", rec.UserID, access, rec.Progress(), media.GateSteps)
}

func probeFailureText(err error) string {
	var probeErr *media.ProbeError
	if !errors.As(err, &probeErr) {
		return textTryAgain
	}
	switch probeErr.Kind {
	case media.ProbeAuthRequired:
		return textAuthRefresh
	case media.ProbeForbidden:
		return "That video is private or restricted and cannot be fetched."
	case media.ProbeUnavailable:
		return "That video is unavailable."
	default:
		return "Could not inspect that link: " + probeErr.Message
	}
}

func actionFailureText(err error) string {
	var storageErr *media.StorageError
	switch {
	case errors.Is(err, media.ErrUnknownToken):
		return textExpired
	case errors.Is(err, media.ErrInvalidStep):
		return "Unknown step."
	case errors.As(err, &storageErr):
		return textStorageDown
	default:
		return textTryAgain
	}
}

func jobFailureText(err error) string {
	var deliveryErr *media.DeliveryError
	if errors.As(err, &deliveryErr) {
		return "Download finished but the file could not be sent: " + deliveryErr.Err.Error()
	}
	if err == nil {
		return "Download failed."
	}
	return "Download error: " + err.Error()
}

//go:build darwin && cgo

package remotedesktop

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework CoreGraphics -framework ApplicationServices -framework Foundation

#include <CoreGraphics/CoreGraphics.h>
#include <ApplicationServices/ApplicationServices.h>
#import <Foundation/Foundation.h>

static int screenCaptureAllowed(int prompt) {
    if (@available(macOS 10.15, *)) {
        if (prompt) {
            return CGRequestScreenCaptureAccess() ? 1 : 0;
        }
        return CGPreflightScreenCaptureAccess() ? 1 : 0;
    }
    return 1;
}

static int inputControlAllowed(int prompt) {
    if (!prompt) {
        return AXIsProcessTrusted() ? 1 : 0;
    }
    NSDictionary *options = @{(__bridge NSString *)kAXTrustedCheckOptionPrompt: @YES};
    return AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)options) ? 1 : 0;
}
*/
import "C"

import (
	"log/slog"
)

// CheckScreenRecordingPermission reports whether frames may be captured,
// without prompting.
func CheckScreenRecordingPermission() bool {
	return C.screenCaptureAllowed(0) == 1
}

// CheckAccessibilityPermission reports whether input may be injected,
// without prompting.
func CheckAccessibilityPermission() bool {
	return C.inputControlAllowed(0) == 1
}

// InitializePermissions prompts for any missing capture or input permission.
// Call it once at agent startup.
func InitializePermissions(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	if C.screenCaptureAllowed(0) == 1 {
		logger.Debug("screen recording permission granted")
	} else if C.screenCaptureAllowed(1) == 1 {
		logger.Info("screen recording permission granted after prompt")
	} else {
		logger.Warn("screen recording permission denied, screen sharing will not work")
	}

	if C.inputControlAllowed(0) == 1 {
		logger.Debug("accessibility permission granted")
	} else if C.inputControlAllowed(1) == 1 {
		logger.Info("accessibility permission granted after prompt")
	} else {
		logger.Warn("accessibility permission denied, remote control will not work")
	}
}

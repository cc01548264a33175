package emulator

import "errors"

var (
	errClientContextTooLarge  = errors.New("client context exceeds 3583 byte limit once base64-encoded")
	errExtensionNotRegistered = errors.New("extension id not registered")
	errFunctionInitFailed     = errors.New("function failed during initialization")
)

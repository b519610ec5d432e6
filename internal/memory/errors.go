package memory

import "errors"

// ErrStorageUnavailable marks failures of the durable record store. Callers
// degrade to memory-less replies instead of failing the conversation.
var ErrStorageUnavailable = errors.New("memory storage unavailable")

// ErrCompletionUnavailable marks failures or timeouts of the completion
// capability. Distillation treats it as retryable; the reply path does not
// retry.
var ErrCompletionUnavailable = errors.New("completion unavailable")

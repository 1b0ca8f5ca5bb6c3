package errs

const (
	ErrCode_OK                  = 0
	ErrCode_Unknown             = 1
	ErrCode_DuplicateTimer      = 2
	ErrCode_SubmitAfterShutdown = 3
	ErrCode_QueueFull           = 4
	ErrCode_CallbackFailure     = 5
	ErrCode_EngineBusy          = 6
	ErrCode_NotInitialized      = 7
	ErrCode_Script              = 8
	ErrCode_Bridge              = 9
	ErrCode_Config              = 10
)

var (
	Unknown             = CreateCodeError(ErrCode_Unknown, "UNKNOWN")
	DuplicateTimer      = CreateCodeError(ErrCode_DuplicateTimer, "DUPLICATE_TIMER_ID")
	SubmitAfterShutdown = CreateCodeError(ErrCode_SubmitAfterShutdown, "SUBMIT_AFTER_SHUTDOWN")
	QueueFull           = CreateCodeError(ErrCode_QueueFull, "CALLBACK_QUEUE_FULL")
	CallbackFailure     = CreateCodeError(ErrCode_CallbackFailure, "CALLBACK_FAILURE")
	EngineBusy          = CreateCodeError(ErrCode_EngineBusy, "ENGINE_BUSY")
	NotInitialized      = CreateCodeError(ErrCode_NotInitialized, "NOT_INITIALIZED")
	Script              = CreateCodeError(ErrCode_Script, "SCRIPT_ERROR")
	Bridge              = CreateCodeError(ErrCode_Bridge, "BRIDGE_ERROR")
	Config              = CreateCodeError(ErrCode_Config, "CONFIG_ERROR")
)

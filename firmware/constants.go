package firmware

// Response codes placed in the error field of an ACK.
const (
	CodeOK              uint32 = 0x0
	CodeUnknownMessage  uint32 = 0x1
	CodeInvalidArgument uint32 = 0x2
	CodeBadState        uint32 = 0x3
)

// Asynchronous error report codes.
const (
	ErrorCodeGeneric    uint32 = 0x100
	ErrorCodeWatchdog   uint32 = 0x101
	ErrorCodeLowVoltage uint32 = 0x102
)

// logRecordWords is the length of a record written to the log queue:
// header, response code, command count.
const logRecordWords = 3

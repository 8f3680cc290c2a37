package errcode

// 错误码约定：
// - 0：无错误
// - 4xxx：用户可自行修复的错误（链接无效、文件无法解析等）
// - 5xxx：系统错误（补全后端不可用、限流等）
const (
	OK              = 0
	BadDocumentLink = 4001
	BadDocumentFile = 4002
	SystemError     = 5000
	RateLimited     = 5429
)

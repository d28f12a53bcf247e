package i18n

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Language type
type Language string

const (
	EN Language = "en"
	ZH Language = "zh"
)

var (
	mu      sync.RWMutex
	current = EN
)

// Messages all text messages
type Messages struct {
	// Common
	Loading string
	Error   string
	Success string
	Confirm string
	Cancel  string
	Yes     string
	No      string

	// Readiness
	Workspace      string
	Image          string
	Containers     string
	Daemon         string
	Connected      string
	Disconnected   string
	Unknown        string
	Checking       string
	NotInitialized string
	NotBuilt       string
	Ready          string

	// Command labels（加载状态显示）
	CmdRefresh    string
	CmdInitialize string
	CmdBuild      string
	CmdTerminal   string
	CmdFuzz       string
	CmdExec       string
	CmdStop       string
	CmdKill       string
	CmdStopAll    string
	CmdCleanup    string

	// Outcomes
	OutcomeSuccess  string
	OutcomeFailed   string
	OutcomeBusy     string
	OutcomeDeclined string
	Busy            string

	// Confirm dialogs
	ConfirmStop    string
	ConfirmKill    string
	ConfirmStopAll string
	ConfirmCleanup string

	// Errors
	DaemonUnreachable string
	BinaryMissing     string
	PartialFailure    string

	// Views
	Logs          string
	CommandPrompt string
	NoContainers  string
	ConfirmHint   string
	ShellExited   string

	// Hints for keys
	KeyHints string
	Quit     string
}

var messages = map[Language]*Messages{
	EN: enMessages,
	ZH: zhMessages,
}

// SetLanguage set current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := messages[lang]; ok {
		current = lang
	}
}

// GetLanguage get current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// ToggleLanguage toggle between EN and ZH
func ToggleLanguage() Language {
	mu.Lock()
	defer mu.Unlock()
	if current == EN {
		current = ZH
	} else {
		current = EN
	}
	return current
}

// GetLanguageDisplay get display name for current language
func GetLanguageDisplay() string {
	if GetLanguage() == ZH {
		return "中文"
	}
	return "EN"
}

// M returns the message table of the current language
func M() *Messages {
	m := messages[GetLanguage()]
	if m == nil {
		m = messages[EN]
	}
	return m
}

// T get translated text
func T(key string) string {
	m := M()
	switch key {
	case "loading":
		return m.Loading
	case "error":
		return m.Error
	case "success":
		return m.Success
	case "confirm":
		return m.Confirm
	case "cancel":
		return m.Cancel

	case "refresh":
		return m.CmdRefresh
	case "initialize":
		return m.CmdInitialize
	case "build":
		return m.CmdBuild
	case "terminal":
		return m.CmdTerminal
	case "fuzz":
		return m.CmdFuzz
	case "exec":
		return m.CmdExec
	case "stop":
		return m.CmdStop
	case "kill":
		return m.CmdKill
	case "stop-all":
		return m.CmdStopAll
	case "cleanup":
		return m.CmdCleanup

	case "Unknown":
		return m.Unknown
	case "Checking":
		return m.Checking
	case "NotInitialized":
		return m.NotInitialized
	case "NotBuilt":
		return m.NotBuilt
	case "Ready":
		return m.Ready

	default:
		return key
	}
}

// Tf formats a translated template
func Tf(key string, args ...interface{}) string {
	return fmt.Sprintf(T(key), args...)
}

// ParseLanguage 解析语言名称，无法识别时返回 EN
func ParseLanguage(s string) Language {
	if strings.HasPrefix(strings.ToLower(s), "zh") {
		return ZH
	}
	return EN
}

// DetectLanguage detect language from environment variables
func DetectLanguage() Language {
	lang := os.Getenv("LANG")
	if lang == "" {
		lang = os.Getenv("LANGUAGE")
	}
	if lang == "" {
		lang = os.Getenv("LC_ALL")
	}
	return ParseLanguage(lang)
}

// Init initialize i18n, an explicit language wins over auto-detection
func Init(lang string) {
	if lang != "" {
		SetLanguage(ParseLanguage(lang))
		return
	}
	SetLanguage(DetectLanguage())
}

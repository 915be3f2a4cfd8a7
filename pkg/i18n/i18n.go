package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ServerListening    string
	HealthListening    string
	ShuttingDown       string
	ShutdownComplete   string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	APIServerError     string
	HealthServerError  string
	MetricsInit        string
	InstanceTag        string

	// Broker
	DryRunMode        string
	OandaMode         string
	OandaTokenMissing string
	DefaultAccount    string

	// Engine
	EngineInit       string
	EngineInitFailed string
	PresetsLoaded    string
	PresetsFailed    string
	SessionsRestored string
	RestoreFailed    string
	SessionsSeeded   string
	SeedFileFailed   string

	// Recovery
	RecoveryStarted string
	RecoveryDone    string
	RecoveryFailed  string

	// Market data
	PriceFeedStarted  string
	PriceFeedDisabled string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:           "Starting session core...",
	ConfigLoaded:       "Config loaded (Port: %s)",
	UsingDBPath:        "Using DB path: %s",
	ServerListening:    "Server listening on :%s",
	HealthListening:    "gRPC health listening on :%s",
	ShuttingDown:       "Shutting down gracefully...",
	ShutdownComplete:   "All sessions stopped and saved.",
	ConfigLoadFailed:   "Failed to load config: %v",
	DBInitFailed:       "Failed to init database: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	APIServerError:     "API server error: %v",
	HealthServerError:  "gRPC health server error: %v",
	MetricsInit:        "Prometheus metrics initialized",
	InstanceTag:        "Instance tag: %s",

	// Broker
	DryRunMode:        "Running in DRY-RUN mode (paper broker, synthetic candles)",
	OandaMode:         "Using OANDA %s environment",
	OandaTokenMissing: "OANDA API key for %s environment is not set",
	DefaultAccount:    "Default account: %s",

	// Engine
	EngineInit:       "Session engine initialized (max running: %d)",
	EngineInitFailed: "Failed to init session engine: %v",
	PresetsLoaded:    "Loaded %d strategy presets from %s",
	PresetsFailed:    "Failed to load strategy presets: %v",
	SessionsRestored: "Restored %d sessions from database",
	RestoreFailed:    "Failed to restore sessions: %v",
	SessionsSeeded:   "Seeded %d sessions from %s",
	SeedFileFailed:   "Failed to read sessions file: %v",

	// Recovery
	RecoveryStarted: "Orphan position recovery started (auto-close: %v)",
	RecoveryDone:    "Orphan recovery finished: %d orphaned positions",
	RecoveryFailed:  "Orphan recovery failed: %v",

	// Market data
	PriceFeedStarted:  "Price stream started for account %s",
	PriceFeedDisabled: "Price stream disabled; orders use pricing snapshots",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:           "啟動交易會話核心...",
	ConfigLoaded:       "設定已載入（埠號：%s）",
	UsingDBPath:        "使用資料庫路徑：%s",
	ServerListening:    "服務監聽於 :%s",
	HealthListening:    "gRPC 健康檢查監聽於 :%s",
	ShuttingDown:       "正在優雅關閉...",
	ShutdownComplete:   "所有會話已停止並保存。",
	ConfigLoadFailed:   "讀取設定失敗：%v",
	DBInitFailed:       "初始化資料庫失敗：%v",
	DBMigrationsFailed: "套用資料庫遷移失敗：%v",
	APIServerError:     "API 伺服器錯誤：%v",
	HealthServerError:  "gRPC 健康檢查伺服器錯誤：%v",
	MetricsInit:        "Prometheus 指標初始化完成",
	InstanceTag:        "實例標籤：%s",

	// Broker
	DryRunMode:        "DRY-RUN 模式（模擬券商與合成K線）",
	OandaMode:         "使用 OANDA %s 環境",
	OandaTokenMissing: "未設定 OANDA %s 環境的 API 金鑰",
	DefaultAccount:    "預設帳戶：%s",

	// Engine
	EngineInit:       "會話引擎初始化完成（最大執行數：%d）",
	EngineInitFailed: "初始化會話引擎失敗：%v",
	PresetsLoaded:    "已從 %[2]s 載入 %[1]d 個策略預設",
	PresetsFailed:    "讀取策略預設失敗：%v",
	SessionsRestored: "已從資料庫恢復 %d 個會話",
	RestoreFailed:    "恢復會話失敗：%v",
	SessionsSeeded:   "已從 %[2]s 建立 %[1]d 個會話",
	SeedFileFailed:   "讀取會話檔案失敗：%v",

	// Recovery
	RecoveryStarted: "孤兒持倉恢復已啟動（自動平倉：%v）",
	RecoveryDone:    "孤兒持倉恢復完成：%d 個孤兒持倉",
	RecoveryFailed:  "孤兒持倉恢復失敗：%v",

	// Market data
	PriceFeedStarted:  "帳戶 %s 的報價串流已啟動",
	PriceFeedDisabled: "報價串流已停用；下單使用報價快照",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}

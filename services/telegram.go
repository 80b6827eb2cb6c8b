package services

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"vigil/config"
	"vigil/models"
)

// alertCooldown throttles repeated alerts for the same device.
const alertCooldown = 5 * time.Minute

// TelegramService sends alerts when a tracked device goes unreachable and
// when it comes back.
type TelegramService struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger

	mu             sync.Mutex
	lastStates     map[string]models.DeviceState
	lastAlertTimes map[string]time.Time
}

func NewTelegramService(cfg *config.Config, logger *zap.Logger) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %v", err)
	}

	chatID, err := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid Telegram chat ID: %v", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	return &TelegramService{
		bot:            bot,
		chatID:         chatID,
		logger:         logger,
		lastStates:     make(map[string]models.DeviceState),
		lastAlertTimes: make(map[string]time.Time),
	}, nil
}

// HandleSnapshot inspects a snapshot for offline/recovery transitions and
// alerts on them. Safe to call from the snapshot fan-out.
func (ts *TelegramService) HandleSnapshot(snap *models.SessionSnapshot) {
	for _, device := range snap.Devices {
		ts.handleTransition(snap.Target, device)
	}
}

func (ts *TelegramService) handleTransition(target string, device models.DeviceSnapshot) {
	key := target + "/" + device.DeviceID

	ts.mu.Lock()
	prev, seen := ts.lastStates[key]
	ts.lastStates[key] = device.State

	wentOffline := seen && prev != models.StateOffline && device.State == models.StateOffline
	recovered := seen && prev == models.StateOffline && device.State != models.StateOffline

	if wentOffline {
		if last, ok := ts.lastAlertTimes[key]; ok && time.Since(last) < alertCooldown {
			ts.mu.Unlock()
			return
		}
		ts.lastAlertTimes[key] = time.Now()
	}
	ts.mu.Unlock()

	var err error
	switch {
	case wentOffline:
		err = ts.sendOfflineAlert(target, device)
	case recovered:
		err = ts.sendRecoveryAlert(target, device)
	default:
		return
	}

	if err != nil {
		ts.logger.Error("Failed to send Telegram alert",
			zap.String("target", target),
			zap.String("device", device.DeviceID),
			zap.Error(err))
	}
}

func (ts *TelegramService) sendOfflineAlert(target string, device models.DeviceSnapshot) error {
	var sb strings.Builder

	sb.WriteString("🔴 <b>DEVICE UNREACHABLE</b>\n\n")
	sb.WriteString(fmt.Sprintf("🎯 <b>Target:</b> %s\n", target))
	sb.WriteString(fmt.Sprintf("📱 <b>Device:</b> %s\n", device.DeviceID))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Last RTT:</b> %.0f ms\n", device.LastRTT))
	sb.WriteString(fmt.Sprintf("🕐 <b>Last Update:</b> %s\n", device.LastUpdate.Format("2006-01-02 15:04:05")))

	return ts.send(sb.String())
}

func (ts *TelegramService) sendRecoveryAlert(target string, device models.DeviceSnapshot) error {
	var sb strings.Builder

	sb.WriteString("✅ <b>DEVICE REACHABLE AGAIN</b>\n\n")
	sb.WriteString(fmt.Sprintf("🎯 <b>Target:</b> %s\n", target))
	sb.WriteString(fmt.Sprintf("📱 <b>Device:</b> %s\n", device.DeviceID))
	sb.WriteString(fmt.Sprintf("📊 <b>State:</b> %s %s\n", device.StateEmoji(), device.State))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Last RTT:</b> %.0f ms\n", device.LastRTT))

	return ts.send(sb.String())
}

// SendStartupMessage announces the service start.
func (ts *TelegramService) SendStartupMessage() error {
	var sb strings.Builder

	sb.WriteString("🚀 <b>VIGIL PRESENCE SERVICE STARTED</b>\n\n")
	sb.WriteString(fmt.Sprintf("🕐 <b>Time:</b> %s\n", time.Now().Format("2006-01-02 15:04:05")))
	sb.WriteString("📡 Probe tracking is active.")

	return ts.send(sb.String())
}

func (ts *TelegramService) send(text string) error {
	msg := tgbotapi.NewMessage(ts.chatID, text)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	if _, err := ts.bot.Send(msg); err != nil {
		return fmt.Errorf("error sending message: %v", err)
	}
	return nil
}

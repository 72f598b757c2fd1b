package channels

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/ikamba/ikamba-agent/pkg/agent"
	"github.com/ikamba/ikamba-agent/pkg/config"
	"github.com/ikamba/ikamba-agent/pkg/logger"
	"github.com/ikamba/ikamba-agent/pkg/utils"
)

const telegramMaxLen = 4096

// TelegramChannel polls the Bot API and relays conversations to the
// agent. Quick replies render as a one-time reply keyboard.
type TelegramChannel struct {
	bot    *telego.Bot
	config config.TelegramConfig
	agent  Agent
	allow  *allowlist
}

func NewTelegramChannel(cfg config.TelegramConfig, handler Agent) (*TelegramChannel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramChannel{
		bot:    bot,
		config: cfg,
		agent:  handler,
		allow:  newAllowlist(cfg.AllowFrom),
	}, nil
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	logger.InfoC("telegram", "Starting Telegram bot (polling mode)...")

	updates, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: 30,
	})
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	logger.InfoCF("telegram", "Telegram bot connected", map[string]interface{}{
		"username": c.bot.Username(),
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					logger.InfoC("telegram", "Updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(ctx, update.Message)
				}
			}
		}
	}()

	return nil
}

func (c *TelegramChannel) handleMessage(ctx context.Context, message *telego.Message) {
	user := message.From
	if user == nil {
		return
	}

	userID := fmt.Sprintf("%d", user.ID)
	if !c.allow.Allows(userID) && !c.allow.Allows(user.Username) {
		logger.DebugCF("telegram", "Message rejected by allowlist", map[string]interface{}{
			"user_id":  userID,
			"username": user.Username,
		})
		return
	}

	content := message.Text
	if message.Caption != "" {
		if content != "" {
			content += "\n"
		}
		content += message.Caption
	}

	var imagePaths []string
	if len(message.Photo) > 0 {
		// Telegram sends multiple sizes, the last is the largest.
		photo := message.Photo[len(message.Photo)-1]
		if path := c.downloadPhoto(ctx, photo.FileID); path != "" {
			imagePaths = append(imagePaths, path)
		}
	}

	if content == "" && len(imagePaths) == 0 {
		return
	}

	chatID := message.Chat.ID
	go c.process(chatID, userID, content, imagePaths)
}

func (c *TelegramChannel) process(chatID int64, userID, content string, imagePaths []string) {
	defer func() {
		for _, p := range imagePaths {
			_ = os.Remove(p)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	reply, err := c.agent.Process(ctx, agent.Request{
		Channel:    "telegram",
		ChatID:     fmt.Sprintf("%d", chatID),
		UserID:     "telegram:" + userID,
		Content:    content,
		ImagePaths: imagePaths,
	}, nil)
	if err != nil {
		logger.ErrorCF("telegram", "Agent request failed", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
		c.sendChunks(ctx, chatID, "Sorry, something went wrong. Please try again in a moment.", nil)
		return
	}

	rendered := RenderReply(reply.Content)
	if rendered.Text == "" {
		return
	}

	var keyboard *telego.ReplyKeyboardMarkup
	if len(rendered.QuickReplies) > 0 {
		var row []telego.KeyboardButton
		for _, qr := range rendered.QuickReplies {
			row = append(row, tu.KeyboardButton(qr.Label))
		}
		keyboard = tu.Keyboard(tu.KeyboardRow(row...))
		keyboard.OneTimeKeyboard = true
		keyboard.ResizeKeyboard = true
	}

	c.sendChunks(ctx, chatID, rendered.Text, keyboard)
}

// sendChunks splits long replies at Telegram's message size limit. The
// keyboard rides on the last chunk only.
func (c *TelegramChannel) sendChunks(ctx context.Context, chatID int64, text string, keyboard *telego.ReplyKeyboardMarkup) {
	chunks := splitMessage(text, telegramMaxLen)
	for i, chunk := range chunks {
		msg := tu.Message(tu.ID(chatID), chunk)
		if keyboard != nil && i == len(chunks)-1 {
			msg.ReplyMarkup = keyboard
		}
		if _, err := c.bot.SendMessage(ctx, msg); err != nil {
			logger.ErrorCF("telegram", "Failed to send message chunk", map[string]interface{}{
				"chunk": i + 1,
				"error": err.Error(),
			})
		}
	}
}

func (c *TelegramChannel) downloadPhoto(ctx context.Context, fileID string) string {
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		logger.ErrorCF("telegram", "Failed to get photo file", map[string]interface{}{
			"error": err.Error(),
		})
		return ""
	}
	if file.FilePath == "" {
		return ""
	}

	filename := file.FilePath
	if filepath.Ext(filename) == "" {
		filename += ".jpg"
	}
	return utils.DownloadFile(c.bot.FileDownloadURL(file.FilePath), filename, utils.DownloadOptions{
		LoggerPrefix: "telegram",
	})
}

func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > maxLen {
		cut := maxLen
		// Prefer breaking on a newline near the limit.
		for i := maxLen - 1; i > maxLen-200 && i > 0; i-- {
			if text[i] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ikamba/ikamba-agent/pkg/agent"
	"github.com/ikamba/ikamba-agent/pkg/config"
	"github.com/ikamba/ikamba-agent/pkg/logger"
	"github.com/ikamba/ikamba-agent/pkg/tagproto"
	"github.com/ikamba/ikamba-agent/pkg/utils"
)

const whatsappGraphBase = "https://graph.facebook.com"

// WhatsAppChannel serves the Meta Cloud API webhook and sends replies
// through the Graph API. Quick replies render as interactive buttons.
type WhatsAppChannel struct {
	config    config.WhatsAppConfig
	agent     Agent
	allow     *allowlist
	client    *http.Client
	graphBase string
}

func NewWhatsAppChannel(cfg config.WhatsAppConfig, agent Agent) *WhatsAppChannel {
	return &WhatsAppChannel{
		config:    cfg,
		agent:     agent,
		allow:     newAllowlist(cfg.AllowFrom),
		client:    &http.Client{Timeout: 30 * time.Second},
		graphBase: whatsappGraphBase,
	}
}

// webhookPayload is the subset of the Cloud API envelope we consume.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From string `json:"from"`
					ID   string `json:"id"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Image struct {
						ID       string `json:"id"`
						MimeType string `json:"mime_type"`
						Caption  string `json:"caption"`
					} `json:"image"`
					Interactive struct {
						ButtonReply struct {
							ID    string `json:"id"`
							Title string `json:"title"`
						} `json:"button_reply"`
					} `json:"interactive"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// HandleWebhook is mounted on the gateway for both the GET
// subscription handshake and POST message delivery.
func (c *WhatsAppChannel) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		c.handleVerify(w, r)
	case http.MethodPost:
		c.handleInbound(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (c *WhatsAppChannel) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == c.config.VerifyToken {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	http.Error(w, "verification failed", http.StatusForbidden)
}

func (c *WhatsAppChannel) handleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.WarnCF("whatsapp", "Unparseable webhook payload", map[string]interface{}{
			"error": err.Error(),
		})
		// Always 200 so Meta does not retry forever.
		w.WriteHeader(http.StatusOK)
		return
	}

	// Acknowledge before processing; the reply goes out via the send
	// API, not the webhook response.
	w.WriteHeader(http.StatusOK)

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				c.dispatch(msg.From, msg.Type, msg.Text.Body, msg.Image.ID, msg.Image.Caption, msg.Interactive.ButtonReply.ID)
			}
		}
	}
}

func (c *WhatsAppChannel) dispatch(from, msgType, text, imageID, caption, buttonID string) {
	if !c.allow.Allows(from) {
		logger.DebugCF("whatsapp", "Message rejected by allowlist", map[string]interface{}{
			"from": from,
		})
		return
	}

	content := text
	var imagePaths []string
	switch msgType {
	case "image":
		content = caption
		if path := c.downloadMedia(imageID); path != "" {
			imagePaths = append(imagePaths, path)
		}
	case "interactive":
		content = buttonID
	}
	if content == "" && len(imagePaths) == 0 {
		return
	}

	go c.process(from, content, imagePaths)
}

func (c *WhatsAppChannel) process(from, content string, imagePaths []string) {
	defer func() {
		for _, p := range imagePaths {
			_ = os.Remove(p)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	reply, err := c.agent.Process(ctx, agent.Request{
		Channel:    "whatsapp",
		ChatID:     from,
		UserID:     "whatsapp:" + from,
		Content:    content,
		ImagePaths: imagePaths,
	}, nil)
	if err != nil {
		logger.ErrorCF("whatsapp", "Agent request failed", map[string]interface{}{
			"from":  from,
			"error": err.Error(),
		})
		_ = c.sendText(ctx, from, "Sorry, something went wrong. Please try again in a moment.")
		return
	}

	rendered := RenderReply(reply.Content)
	if rendered.Text == "" {
		return
	}
	if len(rendered.QuickReplies) > 0 {
		if err := c.sendButtons(ctx, from, rendered.Text, rendered.QuickReplies); err == nil {
			return
		}
		// Interactive send failed, fall through to plain text.
	}
	if err := c.sendText(ctx, from, rendered.Text); err != nil {
		logger.ErrorCF("whatsapp", "Failed to send reply", map[string]interface{}{
			"from":  from,
			"error": err.Error(),
		})
	}
}

// downloadMedia resolves a media ID to its ephemeral URL and fetches
// the bytes, both with the access token.
func (c *WhatsAppChannel) downloadMedia(mediaID string) string {
	if mediaID == "" {
		return ""
	}

	metaURL := fmt.Sprintf("%s/%s/%s", c.graphBase, c.config.GraphVersion, mediaID)
	req, err := http.NewRequest(http.MethodGet, metaURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		logger.ErrorCF("whatsapp", "Media metadata fetch failed", map[string]interface{}{
			"media_id": mediaID,
			"error":    err.Error(),
		})
		return ""
	}
	defer resp.Body.Close()

	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil || meta.URL == "" {
		logger.ErrorCF("whatsapp", "Media metadata unreadable", map[string]interface{}{
			"media_id": mediaID,
		})
		return ""
	}

	filename := mediaID + utils.ExtensionForMime(meta.MimeType)
	return utils.DownloadFile(meta.URL, filename, utils.DownloadOptions{
		Timeout:      60 * time.Second,
		ExtraHeaders: map[string]string{"Authorization": "Bearer " + c.config.AccessToken},
		LoggerPrefix: "whatsapp",
	})
}

func (c *WhatsAppChannel) sendText(ctx context.Context, to, text string) error {
	return c.send(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	})
}

// sendButtons renders up to three quick replies as an interactive
// button message. Button titles are capped at 20 characters by the
// Cloud API.
func (c *WhatsAppChannel) sendButtons(ctx context.Context, to, text string, replies []tagproto.QuickReply) error {
	if len(replies) > 3 {
		replies = replies[:3]
	}
	buttons := make([]map[string]interface{}, 0, len(replies))
	for _, qr := range replies {
		title := qr.Label
		if len(title) > 20 {
			title = utils.Truncate(title, 17)
		}
		buttons = append(buttons, map[string]interface{}{
			"type": "reply",
			"reply": map[string]string{
				"id":    qr.Value,
				"title": title,
			},
		})
	}
	return c.send(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]interface{}{
			"type":   "button",
			"body":   map[string]string{"text": text},
			"action": map[string]interface{}{"buttons": buttons},
		},
	})
}

func (c *WhatsAppChannel) send(ctx context.Context, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.graphBase, c.config.GraphVersion, c.config.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp send: status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

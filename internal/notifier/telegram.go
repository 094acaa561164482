package notifier

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// TelegramNotifier delivers the session's operational alerts (candle snapshot
// timeouts, feed loss) to a Telegram chat. Alerts are prefixed so a shared
// chat can tell this daemon's messages apart.
type TelegramNotifier struct {
	token  string
	chatID string
	client *http.Client
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Send(message string) error {
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	resp, err := t.client.PostForm(endpoint, url.Values{
		"chat_id": {t.chatID},
		"text":    {"dexbook alert: " + message},
	})
	if err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"berza/internal/config"

	"gopkg.in/gomail.v2"
)

// Notifier 发送价格事件通知。
type Notifier interface {
	SendCapAlert(ctx context.Context, drinkName string, price float64, toEmail string) error
}

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// SendCapAlert 通知经理某款酒水价格首次触顶。
// SMTP 未配置时静默跳过，价格引擎不依赖邮件服务。
func (n *EmailNotifier) SendCapAlert(ctx context.Context, drinkName string, price float64, toEmail string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email config missing, skip notification")
		return nil
	}
	if strings.TrimSpace(toEmail) == "" {
		n.logger.Warn("email recipient empty, skip notification")
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", fmt.Sprintf("[Berza] 📈 %s 价格触顶", drinkName))
	m.SetBody("text/html", n.buildHTMLBody(drinkName, price))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("cap alert sent", slog.String("to", toEmail), slog.String("drink", drinkName))
	return nil
}

func (n *EmailNotifier) buildHTMLBody(drinkName string, price float64) string {
	template := `
<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<style>
  body { font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937; }
  .card { max-width: 520px; margin: 24px auto; background: #ffffff; border-radius: 12px; overflow: hidden; border: 1px solid #e5e7eb; }
  .header { background: #0f172a; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold; }
  .content { padding: 20px; }
  .price { font-size: 26px; font-weight: bold; color: #ef4444; margin: 8px 0 12px; }
  .footer { margin-top: 20px; font-size: 12px; color: #6b7280; }
</style>
</head>
<body>
  <div class="card">
    <div class="header">[Berza] 📈 价格触顶提醒</div>
    <div class="content">
      <p><strong>%s</strong> 已经涨到价格上限：</p>
      <div class="price">%.2f</div>
      <div class="footer">价格会在销量回落后自动下调，无需人工干预。</div>
    </div>
  </div>
</body>
</html>`
	return fmt.Sprintf(template, drinkName, price)
}
